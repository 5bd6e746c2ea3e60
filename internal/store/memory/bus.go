package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const (
	busBuffer    = 128
	streamMaxLen = 10000
)

// Bus is a process-local domain.SignalBus. Slow subscribers drop messages
// rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    map[string]map[chan []byte]struct{}{},
		streams: map[string][]domain.StreamMessage{},
	}
}

// Publish delivers payload to current subscribers of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, busBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = map[chan []byte]struct{}{}
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload with a monotonically increasing "<n>-0" id.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > streamMaxLen {
		msgs = msgs[len(msgs)-streamMaxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0" and "" read from
// the start and "$" returns nothing, as with the Redis bus.
func (b *Bus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if count > 0 && len(out) == count {
			break
		}
		if seq, _ := streamSeq(m.ID); seq > after {
			out = append(out, m)
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	if id == "" {
		return 0, nil
	}
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory: invalid stream id %q: %w", id, domain.ErrValidation)
	}
	return n, nil
}

var _ domain.SignalBus = (*Bus)(nil)
