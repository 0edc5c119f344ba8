package rates_test

import (
	"context"
	"io"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendora/trade-ledger/ledger"
	"github.com/vendora/trade-ledger/rates"
)

type tableStub struct {
	rate    decimal.Decimal
	ok      bool
	lookups int
}

func (s *tableStub) LookupRate(context.Context, ledger.Currency, ledger.Currency) (decimal.Decimal, bool, error) {
	s.lookups++
	return s.rate, s.ok, nil
}

// An unreachable redis exercises the degradation path: a broken cache
// must never lose a lookup the backing table can answer.
func TestLookupRate_CacheUnavailable_FallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	next := &tableStub{rate: decimal.RequireFromString("0.1"), ok: true}
	cache := rates.NewCache(client, next, time.Minute, log)

	rate, ok, err := cache.LookupRate(context.Background(), "VES", "USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 1, next.lookups)
}

func TestLookupRate_AbsentPair_NotCachedAsAbsent(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	next := &tableStub{ok: false}
	cache := rates.NewCache(client, next, time.Minute, log)

	_, ok, err := cache.LookupRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.False(t, ok)

	// Every lookup re-checks the table, so a freshly fetched pair is
	// visible on the next call.
	next.rate = decimal.RequireFromString("0.9")
	next.ok = true
	rate, ok, err := cache.LookupRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.9")))
	assert.Equal(t, 2, next.lookups)
}
