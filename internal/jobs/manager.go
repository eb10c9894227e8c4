package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// Config configures a Manager.
type Config struct {
	// Workers is the number of jobs run at once (default: 2).
	Workers int

	// QueueSize is how many accepted jobs may wait for a worker (default: 16).
	// A negative value means no waiting slots. Submissions beyond
	// Workers+QueueSize unfinished jobs fail with Busy.
	QueueSize int

	// Timeout bounds one job's downstream work (default: 5m).
	Timeout time.Duration

	// DefaultTopK and DefaultAlpha fill requests that leave them unset.
	DefaultTopK  int
	DefaultAlpha float64
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		QueueSize:    16,
		Timeout:      5 * time.Minute,
		DefaultTopK:  5,
		DefaultAlpha: 0.5,
	}
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithStore persists jobs in s instead of memory. The Manager closes it.
func WithStore(s Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithMetrics records job transitions.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the job state machine and the worker pool.
//
// All transitions happen under mu, so a job read by GetStatus is always in a
// state some transition produced. Submit never blocks on downstream work.
type Manager struct {
	cfg     Config
	run     Runner
	store   Store
	metrics *telemetry.Metrics

	queue chan string

	// ctx is the parent of every job's context; cancel aborts running jobs.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	unfinished int
	closed     bool
}

// NewManager creates a Manager and starts its workers.
//
// Jobs that a previous process left Pending or Running in a durable store
// are marked Failed, since nothing will ever run them.
func NewManager(cfg Config, run Runner, opts ...Option) (*Manager, error) {
	if run == nil {
		return nil, fmt.Errorf("job runner is required")
	}

	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	switch {
	case cfg.QueueSize == 0:
		cfg.QueueSize = def.QueueSize
	case cfg.QueueSize < 0:
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		// One slot per admissible unfinished job; see Submit.
		queue: make(chan string, cfg.Workers+cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}

	if err := m.failInterrupted(); err != nil {
		cancel()
		return nil, err
	}

	for range cfg.Workers {
		m.wg.Add(1)
		go m.worker()
	}

	slog.Debug("job_manager_started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize))

	return m, nil
}

// failInterrupted marks jobs left unfinished by a previous process as Failed.
func (m *Manager) failInterrupted() error {
	jobs, err := m.store.List(m.ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		job.Status = StatusFailed
		job.Error = "interrupted: the process running this job exited"
		job.ErrorCode = errors.ErrCodeInternal
		job.FinishedAt = time.Now().UTC()
		if err := m.store.Put(m.ctx, job); err != nil {
			return err
		}
		slog.Warn("job_interrupted", slog.String("job_id", job.ID))
	}
	return nil
}

// Submit validates req, records a Pending job and queues it. It returns
// Busy when Workers+QueueSize jobs are already unfinished.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	if req.TopK < 0 {
		return nil, errors.ValidationError(fmt.Sprintf("top_k must be non-negative, got %d", req.TopK), nil)
	}
	if req.Alpha != nil && (*req.Alpha < 0 || *req.Alpha > 1) {
		return nil, errors.ValidationError(fmt.Sprintf("alpha must be in [0,1], got %v", *req.Alpha), nil)
	}
	if req.TopK == 0 {
		req.TopK = m.cfg.DefaultTopK
	}
	if req.Alpha == nil {
		alpha := m.cfg.DefaultAlpha
		req.Alpha = &alpha
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "job manager is shut down", nil)
	}
	if m.unfinished >= cap(m.queue) {
		m.metrics.JobRejected()
		return nil, errors.Busy(fmt.Sprintf("job queue is full (%d unfinished jobs)", m.unfinished))
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}

	// IDs of jobs cancelled while queued stay in the channel until a worker
	// drains them, so the channel can be full even below the admission bound.
	// Workers cannot read the job before mu is released.
	select {
	case m.queue <- job.ID:
	default:
		m.metrics.JobRejected()
		return nil, errors.Busy("job queue is full")
	}
	if err := m.store.Put(ctx, job); err != nil {
		return nil, err
	}
	m.unfinished++
	m.metrics.JobTransition("", string(StatusPending), false)

	slog.Info("job_submitted", slog.String("job_id", job.ID))
	return job.Clone(), nil
}

// GetStatus returns a snapshot of the job. Unknown IDs yield NotFound.
func (m *Manager) GetStatus(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns every job, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	return m.store.List(ctx)
}

// Cancel fails a Pending job before any worker starts it. Jobs that are
// already Running or terminal cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusPending {
		return nil, errors.New(errors.ErrCodeJobNotCancellable,
			fmt.Sprintf("job %s is %s; only pending jobs can be cancelled", id, job.Status), nil).
			WithDetail("status", string(job.Status))
	}

	job.Status = StatusFailed
	job.Cancelled = true
	job.Error = "cancelled before start"
	job.FinishedAt = time.Now().UTC()
	if err := m.store.Put(ctx, job); err != nil {
		return nil, err
	}
	m.unfinished--
	m.metrics.JobTransition(string(StatusPending), string(StatusFailed), true)

	slog.Info("job_cancelled", slog.String("job_id", id))
	return job.Clone(), nil
}

// Stats counts jobs by status.
func (m *Manager) Stats(ctx context.Context) (map[Status]int, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[Status]int{
		StatusPending:   0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for _, j := range jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for id := range m.queue {
		m.execute(id)
	}
}

// execute runs one queued job through Running to a terminal state.
func (m *Manager) execute(id string) {
	job, ok := m.start(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.Timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "jobs.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.top_k", job.Request.TopK),
	))
	defer span.End()

	result, err := m.invoke(ctx, job.Request)
	if err == nil && result == nil {
		err = errors.InternalError("job runner returned no result", nil)
	}
	if err != nil {
		if errors.GetCode(err) == "" {
			err = errors.FromContext("job", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.GetCode(err))
	}

	m.finish(job, result, err)
}

// start moves a Pending job to Running. It reports false for jobs that were
// cancelled while queued, or when the manager is shutting down.
func (m *Manager) start(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(m.ctx, id)
	if errors.IsNotFound(err) {
		// Submit failed to record it and never counted it.
		return nil, false
	}
	if err != nil {
		slog.Error("job_lookup_failed", slog.String("job_id", id), slog.String("error", err.Error()))
		m.unfinished--
		return nil, false
	}
	if job.Status != StatusPending {
		return nil, false
	}

	if m.closed {
		job.Status = StatusFailed
		job.Error = "job manager shut down before the job started"
		job.ErrorCode = errors.ErrCodeStoreUnavailable
		job.FinishedAt = time.Now().UTC()
		m.put(job)
		m.unfinished--
		m.metrics.JobTransition(string(StatusPending), string(StatusFailed), true)
		return nil, false
	}

	job.Status = StatusRunning
	job.StartedAt = time.Now().UTC()
	m.put(job)
	m.metrics.JobTransition(string(StatusPending), string(StatusRunning), false)
	slog.Debug("job_state_changed",
		slog.String("job_id", id),
		slog.String("from", string(StatusPending)),
		slog.String("to", string(StatusRunning)))

	return job, true
}

// invoke calls the runner, turning a panic into an error so one bad job
// cannot take down a worker.
func (m *Manager) invoke(ctx context.Context, req Request) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job_panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = errors.InternalError(fmt.Sprintf("job panicked: %v", r), nil)
		}
	}()
	return m.run(ctx, req)
}

// finish records the outcome of a Running job.
func (m *Manager) finish(job *Job, result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		job.ErrorCode = errors.GetCode(err)
	} else {
		job.Status = StatusCompleted
		job.Result = result
	}
	m.put(job)
	m.unfinished--

	elapsed := job.FinishedAt.Sub(job.StartedAt)
	m.metrics.JobTransition(string(StatusRunning), string(job.Status), true)
	m.metrics.ObserveJob(string(job.Status), elapsed)

	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("from", string(StatusRunning)),
		slog.String("to", string(job.Status)),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		slog.Warn("job_state_changed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	slog.Info("job_state_changed", attrs...)
}

// put writes a transition. The store is the only record of a job, so a
// failed write is logged; the in-flight bookkeeping still advances.
func (m *Manager) put(job *Job) {
	if err := m.store.Put(context.Background(), job); err != nil {
		slog.Error("job_write_failed",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()))
	}
}

// Close stops accepting jobs, fails the ones still queued and waits for
// running jobs. If ctx ends first, running jobs are cancelled (and recorded
// as Failed) before Close returns. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("job_manager_close_timeout", slog.String("action", "cancelling running jobs"))
		m.cancel()
		<-done
	}
	m.cancel()

	return m.store.Close()
}
