package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
	"github.com/alexjbarnes/checklist-sync/internal/models"
)

const (
	DefaultPollInterval     = 10 * time.Second
	DefaultFullSyncInterval = 60 * time.Second
	DefaultMaxTransfers     = 8
)

// Config wires an Engine to its collaborators.
type Config struct {
	Local  LocalStore
	Remote RemoteStore
	Auth   AuthProvider

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	PollInterval     time.Duration
	FullSyncInterval time.Duration
	MaxAuthRetries   int
	MaxTransfers     int

	// OnPassComplete, if set, is called after every pass with its
	// outcome.
	OnPassComplete func(models.PassReport)
}

// Engine runs synchronization passes and owns the sync state. Passes are
// mutually exclusive through the SYNCING state alone: a trigger that
// arrives while a pass is running is dropped.
type Engine struct {
	local     LocalStore
	auth      AuthProvider
	indexer   *Indexer
	transfer  *Transfer
	retry     *RetryPolicy
	scheduler *Scheduler
	clock     clockwork.Clock
	logger    *slog.Logger

	fullInterval   time.Duration
	maxTransfers   int
	onPassComplete func(models.PassReport)

	mu         sync.Mutex
	state      models.SyncState
	pending    bool
	connecting bool
	lastPass   time.Time
	lastReport *models.PassReport
	subs       map[int]chan models.SyncState
	nextSub    int
}

// NewEngine creates an engine. It starts in NEEDS_SYNC when a token is
// already cached and in DISCONNECTED otherwise.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.FullSyncInterval <= 0 {
		cfg.FullSyncInterval = DefaultFullSyncInterval
	}

	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = DefaultMaxTransfers
	}

	e := &Engine{
		local:          cfg.Local,
		auth:           cfg.Auth,
		indexer:        NewIndexer(cfg.Remote, logger),
		transfer:       NewTransfer(cfg.Local, cfg.Remote, logger),
		retry:          NewRetryPolicy(cfg.MaxAuthRetries),
		clock:          cfg.Clock,
		logger:         logger,
		fullInterval:   cfg.FullSyncInterval,
		maxTransfers:   cfg.MaxTransfers,
		onPassComplete: cfg.OnPassComplete,
		state:          models.Disconnected,
		subs:           make(map[int]chan models.SyncState),
	}

	if cfg.Auth.CachedToken() != "" {
		e.state = models.NeedsSync
	}

	e.scheduler = NewScheduler(cfg.Clock, cfg.PollInterval, e.tick, logger)

	return e
}

// State returns the current sync state.
func (e *Engine) State() models.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// LastReport returns the outcome of the most recent pass, if any.
func (e *Engine) LastReport() (models.PassReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastReport == nil {
		return models.PassReport{}, false
	}

	return *e.lastReport, true
}

// Subscribe returns a channel that receives the current state and then
// every change. A slow reader may miss intermediate states but always
// sees the latest one. Call the returned function to unsubscribe.
func (e *Engine) Subscribe() (<-chan models.SyncState, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan models.SyncState, 1)
	ch <- e.state

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// NotifyLocalChange records that a local document changed. It does not
// start a pass; the next scheduler tick picks the change up.
func (e *Engine) NotifyLocalChange(name string) {
	e.mu.Lock()
	e.pending = true
	e.mu.Unlock()

	e.logger.Debug("local change noted", slog.String("name", name))

	if err := e.fire(EventLocalChange); err != nil {
		e.logger.Warn("local change notification", slog.String("error", err.Error()))
	}
}

// Run starts background scheduling, performs an initial pass, and blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.scheduler.Start(ctx)

	if err := e.Synchronize(ctx); err != nil {
		e.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	<-ctx.Done()
	e.scheduler.Stop()

	return nil
}

// tick is the scheduler check. It starts a pass when local changes are
// pending or the full sync interval has elapsed since the last pass
// started. FAILED is left alone until an explicit Synchronize.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	failed := e.state == models.Failed
	pending := e.pending
	due := e.clock.Since(e.lastPass) >= e.fullInterval
	e.mu.Unlock()

	if failed || (!pending && !due) {
		return
	}

	if err := e.Synchronize(ctx); err != nil {
		e.logger.Error("scheduled sync failed", slog.String("error", err.Error()))
	}
}

// Synchronize runs one pass. It is a no-op while a pass is running. With
// no usable token it authenticates first and then syncs.
func (e *Engine) Synchronize(ctx context.Context) error {
	return e.synchronize(ctx, true)
}

// synchronize skips the cached token check when called straight after a
// successful token request.
func (e *Engine) synchronize(ctx context.Context, checkToken bool) error {
	e.mu.Lock()

	switch {
	case e.state == models.Syncing:
		e.mu.Unlock()
		e.logger.Debug("sync already in progress")

		return nil

	case e.state == models.Disconnected:
		e.mu.Unlock()

		return e.connect(ctx)

	case checkToken && e.auth.CachedToken() == "":
		if err := e.setLocked(EventDisconnect); err != nil {
			e.mu.Unlock()
			return err
		}

		e.mu.Unlock()

		return e.connect(ctx)
	}

	if err := e.setLocked(EventSyncInvoked); err != nil {
		e.mu.Unlock()
		return err
	}

	e.pending = false
	e.lastPass = e.clock.Now()
	started := e.lastPass
	e.mu.Unlock()

	e.scheduler.Stop()
	e.logger.Info("sync pass started")

	report, err := e.runPass(ctx)
	report.StartedAt = started

	return e.finishPass(ctx, report, err)
}

// connect requests a token and, on success, starts a pass. Concurrent
// callers share one token request.
func (e *Engine) connect(ctx context.Context) error {
	e.mu.Lock()
	if e.connecting {
		e.mu.Unlock()
		return nil
	}

	e.connecting = true
	e.mu.Unlock()

	// Only a successful pass restarts background ticks.
	e.scheduler.Stop()

	token, err := e.auth.RequestToken(ctx)

	e.mu.Lock()
	e.connecting = false
	e.mu.Unlock()

	if err == nil && token == "" {
		err = apperrors.ErrNoToken
	}

	if err != nil {
		if ferr := e.fire(EventFailed); ferr != nil {
			e.logger.Warn("recording token failure", slog.String("error", ferr.Error()))
		}

		e.complete(models.PassReport{
			State:      models.Failed.String(),
			StartedAt:  e.clock.Now(),
			FinishedAt: e.clock.Now(),
			Error:      err.Error(),
		})

		return fmt.Errorf("requesting token: %w", err)
	}

	if err := e.fire(EventTokenAcquired); err != nil {
		return err
	}

	e.logger.Info("authorized")

	return e.synchronize(ctx, false)
}

func (e *Engine) runPass(ctx context.Context) (models.PassReport, error) {
	var report models.PassReport

	remote, err := e.indexer.ListByType(ctx, MimeType)
	if err != nil {
		return report, err
	}

	localNames, err := e.local.ListNames(ctx)
	if err != nil {
		return report, fmt.Errorf("listing local documents: %w", err)
	}

	names := mapset.NewThreadUnsafeSet(localNames...)
	for name := range remote {
		names.Add(name)
	}

	sorted := names.ToSlice()
	sort.Strings(sorted)

	decisions := make([]models.SyncDecision, 0, len(sorted))

	for _, name := range sorted {
		local, err := e.local.Get(ctx, name)
		if errors.Is(err, apperrors.ErrInvalidName) {
			// Another client wrote a name this side cannot store.
			e.logger.Warn("skipping document with unusable name",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)

			report.Skipped++

			continue
		}

		if err != nil {
			return report, fmt.Errorf("reading local %q: %w", name, err)
		}

		var rp *models.RemoteRecord
		if r, ok := remote[name]; ok {
			rp = &r
		}

		decisions = append(decisions, Decide(name, local, rp))
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	g.SetLimit(e.maxTransfers)

	for _, d := range decisions {
		if d.Action == models.ActionNone {
			report.Unchanged++
			continue
		}

		g.Go(func() error {
			err := e.transfer.Execute(ctx, d)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				errs = append(errs, err)
			case d.Action == models.ActionUpload:
				report.Uploaded++
			default:
				report.Downloaded++
			}

			return nil
		})
	}

	_ = g.Wait()

	return report, errors.Join(errs...)
}

func (e *Engine) finishPass(ctx context.Context, report models.PassReport, err error) error {
	report.FinishedAt = e.clock.Now()

	if err == nil {
		e.retry.Reset()

		if ferr := e.fire(EventSucceeded); ferr != nil {
			return ferr
		}

		e.mu.Lock()
		pending := e.pending
		e.mu.Unlock()

		// Changes noted mid-pass are picked up by the next tick.
		if pending {
			_ = e.fire(EventLocalChange)
		}

		report.State = models.InSync.String()
		e.scheduler.Restart()
		e.complete(report)

		e.logger.Info("sync pass complete",
			slog.Int("uploaded", report.Uploaded),
			slog.Int("downloaded", report.Downloaded),
			slog.Int("unchanged", report.Unchanged),
			slog.Int("skipped", report.Skipped),
			slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		)

		return nil
	}

	report.Error = err.Error()

	switch verdict := e.retry.Observe(err); verdict {
	case VerdictReauthenticate:
		e.logger.Warn("authorization failed, re-authenticating",
			slog.Int("attempt", e.retry.Failures()),
			slog.String("error", err.Error()),
		)

		if cerr := e.auth.ClearToken(); cerr != nil {
			e.logger.Warn("clearing token", slog.String("error", cerr.Error()))
		}

		if ferr := e.fire(EventAuthRetry); ferr != nil {
			return ferr
		}

		report.State = models.Disconnected.String()
		e.complete(report)

		return e.connect(ctx)

	case VerdictExhausted:
		if ferr := e.fire(EventAuthExhausted); ferr != nil {
			return ferr
		}

		report.State = models.Failed.String()
		e.complete(report)

		e.logger.Error("authorization retries exhausted",
			slog.Int("attempts", e.retry.Failures()),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("%w: %w", apperrors.ErrRetriesExhausted, err)

	default:
		if ferr := e.fire(EventFailed); ferr != nil {
			return ferr
		}

		report.State = models.Failed.String()
		e.complete(report)

		e.logger.Error("sync pass failed", slog.String("error", err.Error()))

		return fmt.Errorf("sync pass: %w", err)
	}
}

func (e *Engine) complete(report models.PassReport) {
	e.mu.Lock()
	e.lastReport = &report
	e.mu.Unlock()

	if e.onPassComplete != nil {
		e.onPassComplete(report)
	}
}

func (e *Engine) fire(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.setLocked(ev)
}

func (e *Engine) setLocked(ev Event) error {
	next, err := Transition(e.state, ev)
	if err != nil {
		return err
	}

	if next == e.state {
		return nil
	}

	e.logger.Debug("state change",
		slog.String("from", e.state.String()),
		slog.String("to", next.String()),
		slog.String("event", ev.String()),
	)

	e.state = next

	for _, ch := range e.subs {
		publish(ch, next)
	}

	return nil
}

// publish delivers s, replacing any undelivered older state. Only
// setLocked sends, under the engine mutex, so the second send cannot
// block.
func publish(ch chan models.SyncState, s models.SyncState) {
	select {
	case ch <- s:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	ch <- s
}
