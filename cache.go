package ensagent

import (
	"fmt"

	"github.com/everFinance/ensagent/cache"
	"github.com/everFinance/ensagent/schema"
)

// ResponseCache keeps recent availability and price answers for the http api.
// The registrar never reads it; registration always asks the chain.
type ResponseCache struct {
	c *cache.Cache
}

func NewResponseCache(c *cache.Cache) *ResponseCache {
	return &ResponseCache{c: c}
}

func availabilityKey(name string) string {
	return "avail:" + name
}

func priceKey(name string, seconds int64) string {
	return fmt.Sprintf("price:%s:%d", name, seconds)
}

func (r *ResponseCache) GetAvailability(name string) (schema.RespAvailability, bool) {
	var resp schema.RespAvailability
	if r == nil || r.c.GetJSON(availabilityKey(name), &resp) != nil {
		return resp, false
	}
	return resp, true
}

func (r *ResponseCache) SetAvailability(resp schema.RespAvailability) {
	if r == nil || resp.Error != "" {
		return
	}
	if err := r.c.SetJSON(availabilityKey(resp.Name), resp); err != nil {
		log.Warn("cache availability failed", "name", resp.Name, "err", err)
	}
}

func (r *ResponseCache) GetPrice(name string, seconds int64) (schema.RespPrice, bool) {
	var resp schema.RespPrice
	if r == nil || r.c.GetJSON(priceKey(name, seconds), &resp) != nil {
		return resp, false
	}
	return resp, true
}

func (r *ResponseCache) SetPrice(seconds int64, resp schema.RespPrice) {
	if r == nil {
		return
	}
	if err := r.c.SetJSON(priceKey(resp.Name, seconds), resp); err != nil {
		log.Warn("cache price failed", "name", resp.Name, "err", err)
	}
}

// Forget drops cached answers for a name that was just registered.
func (r *ResponseCache) Forget(name string) {
	if r == nil {
		return
	}
	_ = r.c.Cache.Delete(availabilityKey(name))
}
