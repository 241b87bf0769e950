package archive

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/policy"
	"github.com/ent0n29/gaia/internal/reliability"
)

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
)

// Recorder writes turns to a Store off the request path. Records are
// redacted before they are queued; a full queue drops the record.
type Recorder struct {
	store       Store
	queue       chan TurnRecord
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	onDrop      func(reason string)

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type RecorderOption func(*Recorder)

// WithDropHook is called with "queue_full" or "write_failed" whenever a
// record is lost.
func WithDropHook(fn func(reason string)) RecorderOption {
	return func(r *Recorder) { r.onDrop = fn }
}

func WithBackoff(base, max time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.baseBackoff = base
		r.maxBackoff = max
	}
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       store,
		queue:       make(chan TurnRecord, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: 100 * time.Millisecond,
		maxBackoff:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues one redacted turn.
func (r *Recorder) Record(conversationID string, channel Channel, role, content string) {
	if r == nil {
		return
	}
	redacted, piiChanged := policy.RedactPII(content)
	scrubbed := policy.RedactSecrets(redacted)
	secretChanged := scrubbed != redacted
	redacted = scrubbed
	rec := TurnRecord{
		ConversationID: conversationID,
		Channel:        channel,
		Role:           role,
		Content:        redacted,
		PIIRedacted:    piiChanged || secretChanged,
		CreatedAt:      time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.drop("queue_full")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec TurnRecord) {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(reliability.ExponentialBackoff(attempt-1, r.baseBackoff, r.maxBackoff))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = r.store.SaveTurn(ctx, rec)
		cancel()
		if err == nil {
			return
		}
	}
	logger.Warn("archive write failed", "conversation_id", rec.ConversationID, "attempts", r.maxAttempts, "error", err)
	r.drop("write_failed")
}

func (r *Recorder) drop(reason string) {
	if r.onDrop != nil {
		r.onDrop(reason)
	}
}

// Close drains queued records and stops the writer. It does not close the
// store.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
	})
}
