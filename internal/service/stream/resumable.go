package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

// ErrNotResumable means a chat has no stream a client could reattach to.
var ErrNotResumable = errors.New("no resumable stream")

// Publisher registers response streams for later resumption.
type Publisher interface {
	// Active reports whether streams outlive their original client.
	Active() bool
	// Register mints a stream for chatID. A nil sink means the stream is not mirrored;
	// registration problems never surface as errors.
	Register(ctx context.Context, chatID string) Sink
}

// NoopPublisher is used when no durable backing store is configured.
type NoopPublisher struct{}

func (NoopPublisher) Active() bool { return false }

func (NoopPublisher) Register(context.Context, string) Sink { return nil }

// ResumablePublisher mirrors every response stream into a FrameLog.
type ResumablePublisher struct {
	streams store.Streams
	log     *FrameLog
	hub     *Hub
	poll    time.Duration
	logger  *zap.Logger
}

// NewResumablePublisher wires the stream id table and the frame log.
func NewResumablePublisher(streams store.Streams, log *FrameLog) *ResumablePublisher {
	return &ResumablePublisher{
		streams: streams,
		log:     log,
		hub:     NewHub(),
		poll:    500 * time.Millisecond,
		logger:  logging.Named("resumable"),
	}
}

func (p *ResumablePublisher) Active() bool { return true }

// Register records (streamId, chatId) and returns the mirror sink.
func (p *ResumablePublisher) Register(ctx context.Context, chatID string) Sink {
	streamID := uuid.NewString()
	if err := p.streams.CreateStreamID(ctx, streamID, chatID); err != nil {
		p.logger.Warn("record stream id", zap.Error(err), zap.String("chat_id", chatID))
		return nil
	}
	if err := p.log.Open(ctx, streamID); err != nil {
		p.logger.Warn("open frame log", zap.Error(err), zap.String("stream_id", streamID))
		return nil
	}
	return &mirrorSink{
		ctx:      context.WithoutCancel(ctx),
		streamID: streamID,
		log:      p.log,
		hub:      p.hub,
		logger:   p.logger,
	}
}

// Resume replays the latest stream of chatID into sink and tails it until the stream
// completes or ctx ends. A finished stream has nothing to resume.
func (p *ResumablePublisher) Resume(ctx context.Context, chatID string, sink func([]byte) error) error {
	ids, err := p.streams.StreamIDs(ctx, chatID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNotResumable
	}
	streamID := ids[0]

	notify, unsubscribe := p.hub.Subscribe(streamID)
	defer unsubscribe()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	var seq int64
	first := true
	for {
		frames, done, err := p.log.Read(ctx, streamID, seq)
		if errors.Is(err, ErrUnknownStream) {
			return ErrNotResumable
		}
		if err != nil {
			return err
		}
		if first && done {
			return ErrNotResumable
		}
		first = false
		for _, f := range frames {
			if err := sink(f.Data); err != nil {
				return err
			}
			seq = f.Seq
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-ticker.C:
		}
	}
}

type mirrorSink struct {
	ctx      context.Context
	streamID string
	seq      int64
	log      *FrameLog
	hub      *Hub
	logger   *zap.Logger
}

func (m *mirrorSink) WriteFrame(frame []byte) error {
	m.seq++
	if err := m.log.Append(m.ctx, m.streamID, m.seq, frame); err != nil {
		return err
	}
	m.hub.Publish(m.streamID)
	return nil
}

func (m *mirrorSink) Close() error {
	err := m.log.MarkDone(m.ctx, m.streamID)
	m.hub.Publish(m.streamID)
	return err
}

// Hub wakes resumers of a stream when new frames land. Resumers fall back to polling,
// so a missed wakeup only costs latency.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe returns a wakeup channel for streamID and its cancel func.
func (h *Hub) Subscribe(streamID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[streamID] == nil {
		h.subs[streamID] = make(map[chan struct{}]struct{})
	}
	h.subs[streamID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[streamID], ch)
		if len(h.subs[streamID]) == 0 {
			delete(h.subs, streamID)
		}
	}
}

// Publish wakes every subscriber of streamID without blocking.
func (h *Hub) Publish(streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[streamID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
