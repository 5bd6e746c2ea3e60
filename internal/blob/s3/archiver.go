package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiveImpl implements domain.Archiver. It serialises old rows to JSONL
// and uploads one object per run. Rows are not deleted here.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	stores domain.Stores
}

// NewArchiver creates an ArchiveImpl reading from stores.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, stores domain.Stores) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, stores: stores}
}

// ArchiveTrades uploads trades executed before the cutoff.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.stores.Trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archive(ctx, a, "trades", before, trades)
}

// ArchiveOrders uploads closed orders created before the cutoff.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.stores.Orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, orders)
}

// ArchivePriceHistory uploads price points recorded before the cutoff.
func (a *ArchiveImpl) ArchivePriceHistory(ctx context.Context, before time.Time) (int64, error) {
	points, err := a.stores.PriceHistory.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	return archive(ctx, a, "price_history", before, points)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.stores.Audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// freePath returns archive/<kind>/<date>.jsonl, or the first free
// <date>.<n>.jsonl when earlier runs already wrote that day.
func (a *ArchiveImpl) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	base := fmt.Sprintf("archive/%s/%s", kind, before.UTC().Format("2006-01-02"))
	path := base + ".jsonl"
	for n := 1; ; n++ {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if !exists {
			return path, nil
		}
		path = fmt.Sprintf("%s.%d.jsonl", base, n)
	}
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
