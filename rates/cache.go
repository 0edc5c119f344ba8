/*
Package rates provides a redis-backed read-through cache over a rate table.

PURPOSE:
  The rate table is read on every cross-currency trade but refreshed
  only periodically, which makes it a natural cache candidate. The
  cache layers in front of any ledger.RateTable (in practice the sqlite
  store) and is optional at wiring time.

STALENESS POLICY:
  A slightly stale rate is acceptable; an absent rate is not (the
  processor aborts on absence). Entries expire after the configured
  TTL. Cache infrastructure failures degrade to the backing table
  rather than failing the lookup - losing the cache must never lose a
  trade.
*/
package rates

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vendora/trade-ledger/ledger"
)

// Cache is a read-through rate cache. Implements ledger.RateTable.
type Cache struct {
	client *redis.Client
	next   ledger.RateTable
	ttl    time.Duration
	log    *logrus.Logger
}

func NewCache(client *redis.Client, next ledger.RateTable, ttl time.Duration, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.New()
	}
	return &Cache{client: client, next: next, ttl: ttl, log: log}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// LookupRate checks redis first and falls through to the backing table
// on miss or cache failure. Only present rates are cached; absence is
// re-checked against the table every time so a freshly fetched pair
// becomes usable immediately.
func (c *Cache) LookupRate(ctx context.Context, from, to ledger.Currency) (decimal.Decimal, bool, error) {
	key := rateKey(from, to)

	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if rate, parseErr := decimal.NewFromString(val); parseErr == nil {
			return rate, true, nil
		}
		// Corrupt entry, fall through and overwrite below.
	} else if err != redis.Nil {
		c.log.WithError(err).WithField("key", key).Warn("rate cache unavailable, falling back to table")
	}

	rate, ok, err := c.next.LookupRate(ctx, from, to)
	if err != nil || !ok {
		return rate, ok, err
	}

	if setErr := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); setErr != nil {
		c.log.WithError(setErr).WithField("key", key).Warn("failed to populate rate cache")
	}
	return rate, true, nil
}

func rateKey(from, to ledger.Currency) string {
	return "rate:" + string(from) + ":" + string(to)
}
