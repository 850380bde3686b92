package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bullionclear/clearing/internal/domain"
)

// CachedOracle is a read-through cache over another oracle, so bursts of
// checkouts do not hammer the upstream price feed. Cache failures fall
// back to the inner oracle.
type CachedOracle struct {
	inner  Oracle
	client *redis.Client
	ttl    time.Duration
}

func NewCached(inner Oracle, client *redis.Client, ttl time.Duration) *CachedOracle {
	return &CachedOracle{inner: inner, client: client, ttl: ttl}
}

func (c *CachedOracle) SpotQuote(ctx context.Context, currency string) (domain.SpotQuote, error) {
	key := spotKey(currency)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var quote domain.SpotQuote
		if err := json.Unmarshal(raw, &quote); err == nil {
			return quote, nil
		}
	}

	quote, err := c.inner.SpotQuote(ctx, currency)
	if err != nil {
		return domain.SpotQuote{}, err
	}

	if raw, err := json.Marshal(quote); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return quote, nil
}

func spotKey(currency string) string {
	return fmt.Sprintf("spot:gold:%s", currency)
}
