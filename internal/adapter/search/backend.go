package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"assistbot/internal/domain"
	"assistbot/internal/infra/tracer"
)

const defaultResultLimit = 3

// Backend owns the single process-wide Browser and its lifecycle.
// Queries run concurrently against the current handle; initialization and
// teardown are serialized by lifeMu and never expose a half-built handle.
type Backend struct {
	launch  Launcher
	limit   int
	limiter *rate.Limiter
	logger  *slog.Logger

	lifeMu sync.Mutex // serializes initialize and teardown

	mu      sync.RWMutex
	state   domain.BackendState
	browser Browser
	gen     uint64
	retired []Browser // detached handles awaiting Close
	pending bool      // an init goroutine is scheduled or running
	closed  bool

	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithResultLimit caps the number of entries returned per query.
func WithResultLimit(n int) BackendOption {
	return func(b *Backend) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithRateLimit throttles queries sent to the search engine. A
// non-positive perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) BackendOption {
	return func(b *Backend) {
		if perSecond <= 0 {
			b.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewBackend returns an Uninitialized backend. Nothing is launched until
// Initialize, StartInitialize or the first Query.
func NewBackend(launch Launcher, logger *slog.Logger, opts ...BackendOption) *Backend {
	b := &Backend{
		launch: launch,
		limit:  defaultResultLimit,
		logger: logger,
		state:  domain.BackendUninitialized,
	}
	for _, o := range opts {
		o(b)
	}
	b.baseCtx, b.baseCancel = context.WithCancel(context.Background())
	return b
}

// State reports the current lifecycle state.
func (b *Backend) State() domain.BackendState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Initialize launches the browser and blocks until it is Ready or the
// launch fails. It is a no-op when already Ready.
func (b *Backend) Initialize(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.initializeLocked(ctx)
}

// StartInitialize schedules a background initialization and returns
// immediately. It reports false when one is already scheduled or the
// backend is closed.
func (b *Backend) StartInitialize() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.pending {
		return false
	}
	b.pending = true
	b.wg.Add(1)
	go b.runInit()
	return true
}

// runInit keeps initializing until the backend is Ready, Failed or closed.
// pending is cleared under mu only after the final state check, so a fault
// that detaches a fresh handle while this goroutine is live is picked up by
// another pass instead of being lost.
func (b *Backend) runInit() {
	defer b.wg.Done()

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	for {
		_ = b.initializeLocked(b.baseCtx)

		b.mu.Lock()
		if b.closed || b.state != domain.BackendUninitialized {
			b.pending = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

// initializeLocked must be called with lifeMu held.
func (b *Backend) initializeLocked(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.NewSubSystemError("search", "search.initialize", domain.ErrBackendClosed, "")
	}
	if b.state == domain.BackendReady {
		b.mu.Unlock()
		return nil
	}
	retired := b.retired
	b.retired = nil
	b.mu.Unlock()

	b.closeAll(retired)

	ctx, span := tracer.StartSpan(ctx, "search.initialize")
	defer span.End()

	b.logger.Info("search backend initializing")
	start := time.Now()
	br, err := b.launch(ctx)

	b.mu.Lock()
	if err != nil {
		b.state = domain.BackendFailed
		b.mu.Unlock()

		initErr := domain.NewSubSystemError("search", "search.initialize", domain.ErrBackendUnavailable, err.Error())
		tracer.RecordOutcome(span, domain.BackendFailed.String(), initErr)
		b.logger.Error("search backend initialization failed", "error", err, "duration", time.Since(start))
		return initErr
	}
	if b.closed {
		b.mu.Unlock()
		b.closeAll([]Browser{br})
		return domain.NewSubSystemError("search", "search.initialize", domain.ErrBackendClosed, "")
	}
	b.browser = br
	b.gen++
	b.state = domain.BackendReady
	gen := b.gen
	b.mu.Unlock()

	tracer.RecordOutcome(span, domain.BackendReady.String(), nil)
	b.logger.Info("search backend ready", "generation", gen, "duration", time.Since(start))
	return nil
}

// Teardown closes the current browser and returns to Uninitialized. It
// waits for any in-flight initialization to finish first.
func (b *Backend) Teardown(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	b.teardownLocked()
	return nil
}

func (b *Backend) teardownLocked() {
	b.mu.Lock()
	stale := b.retired
	if b.browser != nil {
		stale = append(stale, b.browser)
	}
	b.browser = nil
	b.retired = nil
	b.gen++
	b.state = domain.BackendUninitialized
	b.mu.Unlock()

	if len(stale) > 0 {
		b.logger.Info("search backend torn down", "closed_handles", len(stale))
	}
	b.closeAll(stale)
}

// Restart implements domain.Searcher: it tears the browser down and
// schedules a fresh initialization without waiting for it.
func (b *Backend) Restart(ctx context.Context) error {
	if b.isClosed() {
		return domain.NewSubSystemError("search", "search.Restart", domain.ErrBackendClosed, "")
	}
	if err := b.Teardown(ctx); err != nil {
		return err
	}
	b.StartInitialize()
	return nil
}

// Query implements domain.Searcher.
func (b *Backend) Query(ctx context.Context, query string) domain.SearchOutcome {
	ctx, span := tracer.StartSpan(ctx, "search.query")
	defer span.End()

	out := b.query(ctx, query)
	span.SetAttributes(tracer.IntAttr("search.results", len(out.Results)))
	tracer.RecordOutcome(span, out.Kind.String(), out.Err)
	return out
}

func (b *Backend) query(ctx context.Context, query string) domain.SearchOutcome {
	b.mu.RLock()
	closed, state, br, gen := b.closed, b.state, b.browser, b.gen
	b.mu.RUnlock()

	if closed {
		return domain.SearchOutcome{
			Kind: domain.SearchFailed,
			Err:  domain.NewSubSystemError("search", "search.Query", domain.ErrBackendClosed, ""),
		}
	}
	if state != domain.BackendReady || br == nil {
		if b.StartInitialize() {
			b.logger.Info("search backend warming up", "state", state.String())
		}
		return domain.SearchOutcome{Kind: domain.SearchWarmingUp}
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return domain.SearchOutcome{
				Kind: domain.SearchFailed,
				Err:  domain.NewSubSystemError("search", "search.Query", domain.ErrRateLimit, err.Error()),
			}
		}
	}

	results, err := br.Search(ctx, query, b.limit)
	switch {
	case err == nil && len(results) == 0:
		return domain.SearchOutcome{Kind: domain.SearchNoResults}
	case err == nil:
		return domain.SearchOutcome{Kind: domain.SearchOK, Results: results}
	case ctx.Err() != nil:
		// The caller gave up; the browser itself is not suspect.
		return domain.SearchOutcome{Kind: domain.SearchFailed, Err: domain.WrapOp("search.Query", err)}
	case isTimeout(err):
		b.logger.Warn("search timed out", "query", query, "error", err)
		b.recoverFrom(br, gen)
		return domain.SearchOutcome{
			Kind: domain.SearchTimeout,
			Err:  domain.NewSubSystemError("search", "search.Query", domain.ErrTimeout, err.Error()),
		}
	default:
		b.logger.Error("search failed", "query", query, "error", err)
		b.recoverFrom(br, gen)
		return domain.SearchOutcome{Kind: domain.SearchFailed, Err: domain.WrapOp("search.Query", err)}
	}
}

// recoverFrom detaches a handle that failed a query and schedules a
// re-initialization. Only the first failure against a given generation
// acts; later ones find the handle already gone.
func (b *Backend) recoverFrom(failed Browser, gen uint64) {
	b.mu.Lock()
	if b.closed || b.gen != gen || b.browser != failed {
		b.mu.Unlock()
		return
	}
	b.browser = nil
	b.retired = append(b.retired, failed)
	b.state = domain.BackendUninitialized
	b.mu.Unlock()

	b.logger.Info("search backend marked uninitialized after failure", "generation", gen)
	b.StartInitialize()
}

// Close tears the backend down for good. Pending initializations are
// cancelled and awaited.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.baseCancel()
	b.wg.Wait()

	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	b.teardownLocked()
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Backend) closeAll(browsers []Browser) {
	for _, br := range browsers {
		if err := br.Close(); err != nil {
			b.logger.Warn("close browser failed", "error", err)
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
