// Package cache keeps services and resources in memory in front of a
// storage.Catalog. The resolver reads them on every request.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
)

type Catalog struct {
	next      storage.Catalog
	services  *lru.Cache[string, model.Service]
	resources *lru.Cache[string, model.Resource]
	// Listings can change on another replica, so they expire.
	lists *expirable.LRU[model.Kind, []model.Resource]
}

var _ storage.Catalog = (*Catalog)(nil)

func NewCatalog(next storage.Catalog, size int, listTTL time.Duration) (*Catalog, error) {
	if size <= 0 {
		size = 1024
	}
	if listTTL <= 0 {
		listTTL = 30 * time.Second
	}
	services, err := lru.New[string, model.Service](size)
	if err != nil {
		return nil, err
	}
	resources, err := lru.New[string, model.Resource](size)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		next:      next,
		services:  services,
		resources: resources,
		lists:     expirable.NewLRU[model.Kind, []model.Resource](16, nil, listTTL),
	}, nil
}

func (c *Catalog) GetService(ctx context.Context, id string) (model.Service, error) {
	if svc, ok := c.services.Get(id); ok {
		return svc, nil
	}
	svc, err := c.next.GetService(ctx, id)
	if err != nil {
		return model.Service{}, err
	}
	c.services.Add(id, svc)
	return svc, nil
}

func (c *Catalog) ListServices(ctx context.Context) ([]model.Service, error) {
	return c.next.ListServices(ctx)
}

func (c *Catalog) GetResource(ctx context.Context, id string) (model.Resource, error) {
	if res, ok := c.resources.Get(id); ok {
		return res, nil
	}
	res, err := c.next.GetResource(ctx, id)
	if err != nil {
		return model.Resource{}, err
	}
	c.resources.Add(id, res)
	return res, nil
}

func (c *Catalog) ListResources(ctx context.Context, kind model.Kind) ([]model.Resource, error) {
	if list, ok := c.lists.Get(kind); ok {
		return append([]model.Resource(nil), list...), nil
	}
	list, err := c.next.ListResources(ctx, kind)
	if err != nil {
		return nil, err
	}
	c.lists.Add(kind, list)
	return append([]model.Resource(nil), list...), nil
}

// Purge drops everything; called after catalog writes.
func (c *Catalog) Purge() {
	c.services.Purge()
	c.resources.Purge()
	c.lists.Purge()
}
