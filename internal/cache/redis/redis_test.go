package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "price:o1", (&Client{}).key("price", "o1"))
	assert.Equal(t, "px:price:o1", (&Client{prefix: "px"}).key("price", "o1"))

	sb := &SignalBus{c: &Client{prefix: "px"}}
	assert.Equal(t, "px:stream:trades", sb.name("stream", "trades"))
}

func TestParsePriceHash(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	price, at, ok := parsePriceHash(map[string]string{
		"price": "0.625",
		"ts":    "1772366400000000000",
	})
	assert.True(t, ok)
	assert.Equal(t, 0.625, price)
	assert.True(t, at.Equal(ts))

	for _, vals := range []map[string]string{
		{},
		{"price": "abc", "ts": "1"},
		{"price": "0.5"},
	} {
		_, _, ok := parsePriceHash(vals)
		assert.False(t, ok, "%v", vals)
	}
}

func TestRangeStart(t *testing.T) {
	assert.Equal(t, "-", rangeStart(""))
	assert.Equal(t, "-", rangeStart("0"))
	assert.Equal(t, "(1700000000000-3", rangeStart("1700000000000-3"))
}

func TestPayloadOf(t *testing.T) {
	b, ok := payloadOf(map[string]any{"payload": "x"})
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), b)

	_, ok = payloadOf(map[string]any{"payload": 1})
	assert.False(t, ok)
	_, ok = payloadOf(map[string]any{})
	assert.False(t, ok)
}

func TestNewSignalBusDefaultsMaxLen(t *testing.T) {
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(&Client{}, 0).maxLen)
	assert.Equal(t, int64(50), NewSignalBus(&Client{}, 50).maxLen)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("prices:*"))
	assert.False(t, hasPattern("prices"))
}
