package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

// RuleInput is the wire form of a working-hours rule shared by the REST API
// and the directory consumer. EffectiveDate is YYYY-MM-DD or empty.
type RuleInput struct {
	Weekday       int    `json:"weekday"`
	StartMinute   int    `json:"start_minute"`
	EndMinute     int    `json:"end_minute"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

func RulesFromInput(in []RuleInput) ([]model.AvailabilityRule, error) {
	out := make([]model.AvailabilityRule, 0, len(in))
	for _, r := range in {
		rule := model.AvailabilityRule{
			Weekday:     r.Weekday,
			StartMinute: r.StartMinute,
			EndMinute:   r.EndMinute,
		}
		if raw := strings.TrimSpace(r.EffectiveDate); raw != "" {
			d, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: effective_date %q", model.ErrInvalidRule, raw)
			}
			rule.EffectiveDate = &d
		}
		out = append(out, rule)
	}
	return out, nil
}
