// Package activity derives an audit trail from session and dashboard changes
// and hands it to a publisher off the caller's goroutine.
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

const (
	defaultQueueSize = 64
	publishTimeout   = 10 * time.Second
)

// Publisher delivers one event. Implemented by the AMQP client and by
// storage for in-process recording.
type Publisher interface {
	PublishActivity(ctx context.Context, ev core.ActivityEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev core.ActivityEvent) error

func (f PublisherFunc) PublishActivity(ctx context.Context, ev core.ActivityEvent) error {
	return f(ctx, ev)
}

type SessionSource interface {
	Subscribe(func(session.State)) func()
}

type ViewSource interface {
	Subscribe(func(dashboard.View)) func()
}

type Option func(*Recorder)

func WithLogger(l *log.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) { r.newID = gen }
}

func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// Recorder turns observed state into activity events. Events are published
// in the order they were observed; when the queue is full new events are
// dropped and counted.
type Recorder struct {
	pub       Publisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
	queueSize int

	queue chan core.ActivityEvent
	done  chan struct{}

	mu          sync.Mutex
	closed      bool
	last        session.State
	lastRefresh refreshKey
	unsubs      []func()

	dropped atomic.Int64
	failed  atomic.Int64
}

type refreshKey struct {
	businessID string
	computedAt time.Time
}

func NewRecorder(pub Publisher, opts ...Option) *Recorder {
	r := &Recorder{
		pub:       pub,
		logger:    log.Discard(),
		now:       time.Now,
		newID:     uuid.NewString,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent(log.ComponentActivity)
	r.queue = make(chan core.ActivityEvent, r.queueSize)
	r.done = make(chan struct{})
	go r.run()
	return r
}

// AttachSession records sign-in, sign-out and business switches.
func (r *Recorder) AttachSession(src SessionSource) {
	unsub := src.Subscribe(r.observeSession)
	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// AttachDashboard records every completed dashboard aggregation.
func (r *Recorder) AttachDashboard(src ViewSource) {
	unsub := src.Subscribe(r.observeView)
	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

func (r *Recorder) observeSession(cur session.State) {
	r.mu.Lock()
	prev := r.last
	r.last = cur
	r.mu.Unlock()

	wasIn := prev.Status == session.StatusAuthenticated
	isIn := cur.Status == session.StatusAuthenticated

	if wasIn && (!isIn || prev.Identity.UserID != cur.Identity.UserID) {
		r.Record(core.ActivityEvent{
			Type:       core.ActivitySignedOut,
			UserID:     prev.Identity.UserID,
			Email:      prev.Identity.Email,
			BusinessID: prev.ActiveBusinessID(),
		})
		wasIn = false
	}
	if !isIn {
		return
	}
	if !wasIn {
		r.Record(core.ActivityEvent{
			Type:   core.ActivitySignedIn,
			UserID: cur.Identity.UserID,
			Email:  cur.Identity.Email,
		})
		prev = session.State{}
	}
	if id := cur.ActiveBusinessID(); id != "" && id != prev.ActiveBusinessID() {
		r.Record(core.ActivityEvent{
			Type:       core.ActivityBusinessSwitched,
			UserID:     cur.Identity.UserID,
			Email:      cur.Identity.Email,
			BusinessID: id,
		})
	}
}

func (r *Recorder) observeView(v dashboard.View) {
	m := v.Metrics
	if v.Loading || m.BusinessID == "" {
		return
	}
	key := refreshKey{businessID: m.BusinessID, computedAt: m.ComputedAt}

	r.mu.Lock()
	if key == r.lastRefresh {
		r.mu.Unlock()
		return
	}
	r.lastRefresh = key
	st := r.last
	r.mu.Unlock()

	business := core.Business{ID: m.BusinessID}
	for _, ms := range st.Memberships {
		if ms.BusinessID == m.BusinessID {
			business = ms.Business
			break
		}
	}
	r.Record(core.ActivityEvent{
		Type:       core.ActivityDashboardRefresh,
		UserID:     st.Identity.UserID,
		Email:      st.Identity.Email,
		BusinessID: m.BusinessID,
		Snapshot:   &core.DashboardSnapshot{Business: business, Metrics: m},
	})
}

// Record enqueues ev, filling in ID and OccurredAt when missing. It never
// blocks.
func (r *Recorder) Record(ev core.ActivityEvent) bool {
	if ev.ID == "" {
		ev.ID = r.newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- ev:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("Activity queue full, dropping event",
			log.FieldActivityType, ev.Type,
			log.FieldUserID, ev.UserID)
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := r.pub.PublishActivity(ctx, ev)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.Error("Failed to publish activity",
				log.FieldError, err,
				log.FieldOperation, log.OpPublish,
				log.FieldActivityType, ev.Type,
				log.FieldBusinessID, ev.BusinessID)
			continue
		}
		r.logger.Debug("Activity published", log.FieldActivityType, ev.Type, "id", ev.ID)
	}
}

// Stats reports events dropped on a full queue and events the publisher
// rejected.
func (r *Recorder) Stats() (dropped, failed int64) {
	return r.dropped.Load(), r.failed.Load()
}

// Close detaches from all sources and waits until queued events have been
// handed to the publisher.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	unsubs := r.unsubs
	r.unsubs = nil
	close(r.queue)
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	<-r.done
}
