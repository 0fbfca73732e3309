package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/backoffice/libs/httpx"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

type createServiceRequest struct {
	Name            string       `json:"name"`
	DurationMinutes int          `json:"duration_minutes"`
	RequiredKinds   []model.Kind `json:"required_kinds"`
}

type createResourceRequest struct {
	Name     string     `json:"name"`
	Kind     model.Kind `json:"kind"`
	Timezone string     `json:"timezone"`
	Members  []string   `json:"members"`
}

type replaceRulesRequest struct {
	Rules []booking.RuleInput `json:"rules"`
}

func (h *BookingHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.mgr.Services(r.Context())
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, items)
}

func (h *BookingHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	svc, err := h.mgr.CreateService(r.Context(), model.Service{
		Name:            req.Name,
		DurationMinutes: req.DurationMinutes,
		RequiredKinds:   req.RequiredKinds,
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, svc)
}

// ListResources serves the original /staff and /rooms listings through ?kind=.
func (h *BookingHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	items, err := h.mgr.Resources(r.Context(), kind)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, items)
}

func (h *BookingHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	res, err := h.mgr.CreateResource(r.Context(), model.Resource{
		Name:     req.Name,
		Kind:     req.Kind,
		Timezone: strings.TrimSpace(req.Timezone),
		Members:  req.Members,
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *BookingHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req replaceRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	rules, err := booking.RulesFromInput(req.Rules)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	saved, err := h.mgr.ReplaceRules(r.Context(), r.PathValue("id"), rules)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeList(w, saved)
}
