// Package dashboard turns the active business's most recent invoices into
// summary metrics and keeps them current as the active business changes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bizdash/internal/core"
	"bizdash/internal/dataservice"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

// DefaultRecentLimit is how many invoices one aggregation reads.
const DefaultRecentLimit = 10

// snapshotConcurrency bounds parallel fetches in SnapshotAll.
const snapshotConcurrency = 4

// ErrSuperseded is returned by Refresh when a newer refresh started before
// this one finished, or when it names a business that is no longer active.
// Its result was not applied.
var ErrSuperseded = errors.New("dashboard refresh superseded")

// View is what subscribers observe.
type View struct {
	Metrics core.DashboardMetrics
	Loading bool
	Version uint64
}

// TenantSource is the slice of the session manager the aggregator needs.
type TenantSource interface {
	OnActiveTenantChanged(func(*core.Business))
	Snapshot() session.State
}

type Option func(*Aggregator)

// WithLimit overrides DefaultRecentLimit.
func WithLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithClock replaces the clock used to decide overdueness.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

type Aggregator struct {
	invoices dataservice.InvoiceReader
	limit    int
	now      func() time.Time
	logger   *log.Logger

	// dispatch serializes state changes with their fan-out.
	dispatch sync.Mutex

	mu      sync.RWMutex
	gen     uint64
	// active is the business last announced by an attached TenantSource.
	active   string
	attached bool
	metrics core.DashboardMetrics
	loading bool
	version uint64

	subsMu   sync.Mutex
	nextSub  int
	subs     map[int]func(View)
	subOrder []int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(invoices dataservice.InvoiceReader, opts ...Option) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		invoices: invoices,
		limit:    DefaultRecentLimit,
		now:      time.Now,
		logger:   log.Discard(),
		subs:     make(map[int]func(View)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach keeps the metrics in step with src's active business. Each change
// synchronously supersedes any running fetch and starts a new one in the
// background. Once attached, an explicit Refresh for any other business is
// dropped with ErrSuperseded.
func (a *Aggregator) Attach(src TenantSource) {
	a.mu.Lock()
	a.attached = true
	a.mu.Unlock()
	src.OnActiveTenantChanged(func(b *core.Business) {
		id := ""
		if b != nil {
			id = b.ID
		}
		a.setActive(id)
		a.trigger(id, false)
	})
	if id := src.Snapshot().ActiveBusinessID(); id != "" {
		a.setActive(id)
		a.trigger(id, true)
	}
}

func (a *Aggregator) setActive(id string) {
	a.mu.Lock()
	a.active = id
	a.mu.Unlock()
}

func (a *Aggregator) trigger(businessID string, onlyIfIdle bool) {
	gen, ok := a.begin(businessID, onlyIfIdle)
	if !ok || businessID == "" {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.fetch(a.ctx, gen, businessID)
	}()
}

// Refresh recomputes the metrics for businessID and returns them. An empty
// id resets to zero metrics. When attached, a businessID that is no longer
// the active one returns ErrSuperseded and leaves the running fetch alone.
func (a *Aggregator) Refresh(ctx context.Context, businessID string) (core.DashboardMetrics, error) {
	gen, ok := a.begin(businessID, false)
	if !ok {
		a.logger.Debug("Dropping refresh for inactive business", log.FieldBusinessID, businessID)
		return a.Metrics(), ErrSuperseded
	}
	if businessID == "" {
		return core.DashboardMetrics{}, nil
	}
	return a.fetch(ctx, gen, businessID)
}

// begin opens a new generation. With onlyIfIdle it does nothing once any
// generation exists. It also refuses a business other than the tracked
// active one.
func (a *Aggregator) begin(businessID string, onlyIfIdle bool) (uint64, bool) {
	a.dispatch.Lock()
	defer a.dispatch.Unlock()

	a.mu.Lock()
	if onlyIfIdle && a.gen != 0 {
		a.mu.Unlock()
		return 0, false
	}
	if a.attached && businessID != "" && businessID != a.active {
		a.mu.Unlock()
		return 0, false
	}
	a.gen++
	gen := a.gen
	if businessID == "" {
		a.metrics = core.DashboardMetrics{}
		a.loading = false
	} else {
		a.loading = true
	}
	a.version++
	v := a.viewLocked()
	a.mu.Unlock()

	a.publish(v)
	return gen, true
}

func (a *Aggregator) fetch(ctx context.Context, gen uint64, businessID string) (core.DashboardMetrics, error) {
	invoices, err := a.invoices.QueryRecentInvoices(ctx, businessID, a.limit)
	var m core.DashboardMetrics
	if err == nil {
		m = Compute(businessID, invoices, a.now())
	}

	a.dispatch.Lock()
	defer a.dispatch.Unlock()

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		a.logger.Debug("Discarding stale dashboard result", log.FieldBusinessID, businessID)
		return m, ErrSuperseded
	}
	a.loading = false
	if err != nil {
		a.version++
		v := a.viewLocked()
		a.mu.Unlock()

		ferr := &core.AggregationFetchError{BusinessID: businessID, Err: err}
		a.logger.ErrorContext(ctx, "Dashboard refresh failed",
			log.NewFields().WithError(ferr).WithOperation(log.OpRefresh).WithBusiness(businessID).ToSlice()...)
		a.publish(v)
		return core.DashboardMetrics{}, ferr
	}
	a.metrics = m
	a.version++
	v := a.viewLocked()
	a.mu.Unlock()

	log.NewStructuredLogger(a.logger).LogDashboardRefreshed(ctx, m)
	a.publish(v)
	return m, nil
}

// SnapshotAll computes metrics for every business concurrently without
// touching the aggregator's own state. Results keep the input order.
func (a *Aggregator) SnapshotAll(ctx context.Context, businesses []core.Business) ([]core.DashboardSnapshot, error) {
	out := make([]core.DashboardSnapshot, len(businesses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)

	for i, b := range businesses {
		g.Go(func() error {
			invoices, err := a.invoices.QueryRecentInvoices(gctx, b.ID, a.limit)
			if err != nil {
				return &core.AggregationFetchError{BusinessID: b.ID, Err: err}
			}
			out[i] = core.DashboardSnapshot{Business: b, Metrics: Compute(b.ID, invoices, a.now())}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot businesses: %w", err)
	}
	return out, nil
}

func (a *Aggregator) Metrics() core.DashboardMetrics {
	return a.View().Metrics
}

func (a *Aggregator) Loading() bool {
	return a.View().Loading
}

func (a *Aggregator) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.viewLocked()
}

func (a *Aggregator) viewLocked() View {
	m := a.metrics
	if m.RecentInvoices != nil {
		m.RecentInvoices = append([]core.RecentInvoice(nil), m.RecentInvoices...)
	}
	return View{Metrics: m, Loading: a.loading, Version: a.version}
}

// Subscribe registers fn for every published view and returns its
// unsubscribe func. fn runs synchronously and must not call Refresh.
func (a *Aggregator) Subscribe(fn func(View)) func() {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subOrder = append(a.subOrder, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subsMu.Lock()
			defer a.subsMu.Unlock()
			delete(a.subs, id)
			for i, v := range a.subOrder {
				if v == id {
					a.subOrder = append(a.subOrder[:i], a.subOrder[i+1:]...)
					break
				}
			}
		})
	}
}

func (a *Aggregator) publish(v View) {
	a.subsMu.Lock()
	subs := make([]func(View), 0, len(a.subOrder))
	for _, id := range a.subOrder {
		subs = append(subs, a.subs[id])
	}
	a.subsMu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Wait blocks until background fetches started by Attach have finished.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// Close cancels background fetches and waits for them.
func (a *Aggregator) Close() {
	a.cancel()
	a.wg.Wait()
}
