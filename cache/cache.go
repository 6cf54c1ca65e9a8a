package cache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

var ErrMiss = errors.New("cache_miss")

type Cache struct {
	Cache ICache
}

type ICache interface {
	Set(key string, entry []byte) error

	Get(key string) ([]byte, error)

	Delete(key string) error
}

func NewLocalCache(allKeysExpTime time.Duration) (*Cache, error) {
	cache, err := NewBigCache(allKeysExpTime)
	if err != nil {
		return nil, err
	}
	return &Cache{Cache: cache}, nil
}

func (c *Cache) SetJSON(key string, v interface{}) error {
	by, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Cache.Set(key, by)
}

// GetJSON returns ErrMiss when key is absent or expired.
func (c *Cache) GetJSON(key string, v interface{}) error {
	by, err := c.Cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(by, v)
}
