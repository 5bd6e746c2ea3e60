package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveTrades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	st := store.Stores()
	old := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, st.Trades.Insert(ctx, domain.Trade{
			ID: id, MarketID: "m", OutcomeID: "o", Amount: decimal.NewFromInt(3), Price: 0.4, CreatedAt: old,
		}))
	}
	require.NoError(t, st.Trades.Insert(ctx, domain.Trade{ID: "fresh", MarketID: "m", Amount: decimal.NewFromInt(1)}))

	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewArchiver(blobs, blobs, st)
	cutoff := old.Add(time.Hour)

	n, err := a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	body, ok := blobs.objects["archive/trades/2026-01-02.jsonl"]
	require.True(t, ok, "objects: %v", blobs.objects)
	sc := bufio.NewScanner(bytes.NewReader(body))
	var ids []string
	for sc.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t1", "t2"}, ids)

	// A second run the same day must not overwrite the first object.
	_, err = a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Contains(t, blobs.objects, "archive/trades/2026-01-02.1.jsonl")

	entries, err := st.Audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.trades", entries[0].Event)
}

func TestArchiveSkipsEmpty(t *testing.T) {
	t.Parallel()
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewArchiver(blobs, blobs, memory.New().Stores())

	for name, fn := range map[string]func(context.Context, time.Time) (int64, error){
		"orders":        a.ArchiveOrders,
		"price_history": a.ArchivePriceHistory,
	} {
		n, err := fn(context.Background(), time.Now())
		require.NoError(t, err, name)
		assert.Zero(t, n, name)
	}
	assert.Empty(t, blobs.objects)
}

func TestWithScheme(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://s3.local", withScheme("s3.local", true))
	assert.Equal(t, "http://s3.local:9000", withScheme("s3.local:9000", false))
	assert.Equal(t, "http://minio:9000", withScheme("http://minio:9000", true))
}
