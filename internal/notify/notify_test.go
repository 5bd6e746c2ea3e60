package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFilters(t *testing.T) {
	t.Parallel()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"market_resolved", " invariant_violation"}, discard)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "market_resolved", "Market resolved", "m1"))
	require.NoError(t, n.Notify(ctx, "invariant_violation", "Invariant", "m2"))
	require.NoError(t, n.Notify(ctx, "order_submitted", "ignored", ""))
	require.NoError(t, n.NotifyAll(ctx, "Started", "v1"))

	assert.Equal(t, []string{"Market resolved|m1", "Invariant|m2", "Started|v1"}, s.calls)
}

func TestNotifierJoinsFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard)

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Len(t, good.calls, 1, "a failing sender does not block the others")
}

func TestDiscordSender(t *testing.T) {
	t.Parallel()
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hook", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(context.Background(), "Title", "body"))
	assert.Equal(t, "**Title**\nbody", got["content"])
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/botsecret/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		assert.Equal(t, "*Title*\nbody", body["text"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, newTelegramSender(srv.URL, "secret", "42").Send(context.Background(), "Title", "body"))

	err := newTelegramSender(srv.URL, "wrong", "42").Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.EqualValues(t, 2, hits.Load(), "4xx replies are not retried")
}
