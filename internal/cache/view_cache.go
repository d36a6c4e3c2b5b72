package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"smilecert/internal/metrics"
	"smilecert/internal/models"
)

const publicListKey = "public"

// ViewCache holds rendered public views: single certificates by id and the
// public listing. Every certificate mutation must call Invalidate.
type ViewCache struct {
	views *expirable.LRU[string, models.Certificate]
	lists *expirable.LRU[string, []models.Certificate]
}

func NewViewCache(size int, ttl time.Duration) *ViewCache {
	if size <= 0 {
		size = 512
	}
	return &ViewCache{
		views: expirable.NewLRU[string, models.Certificate](size, nil, ttl),
		lists: expirable.NewLRU[string, []models.Certificate](4, nil, ttl),
	}
}

func (c *ViewCache) Get(id string) (models.Certificate, bool) {
	v, ok := c.views.Get(id)
	record(ok)
	return v, ok
}

func (c *ViewCache) Set(id string, cert models.Certificate) {
	c.views.Add(id, cert)
}

func (c *ViewCache) GetList() ([]models.Certificate, bool) {
	v, ok := c.lists.Get(publicListKey)
	record(ok)
	return v, ok
}

func (c *ViewCache) SetList(items []models.Certificate) {
	c.lists.Add(publicListKey, items)
}

// Invalidate drops the certificate view and the listing it may appear in.
func (c *ViewCache) Invalidate(id string) {
	if id != "" {
		c.views.Remove(id)
	}
	c.lists.Purge()
}

// Purge drops every cached view. Used when a change such as an owner's
// name can show up in views other than the one edited.
func (c *ViewCache) Purge() {
	c.views.Purge()
	c.lists.Purge()
}

func (c *ViewCache) Len() int {
	return c.views.Len()
}

func record(hit bool) {
	if hit {
		metrics.ViewCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	metrics.ViewCacheLookups.WithLabelValues("miss").Inc()
}
