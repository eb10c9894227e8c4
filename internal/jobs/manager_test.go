package jobs

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/search"
	"github.com/Aman-CERP/ragcore/internal/telemetry"
)

// gatedRunner blocks every call until release is closed and counts calls.
type gatedRunner struct {
	release chan struct{}
	calls   atomic.Int32
	started chan string

	mu   sync.Mutex
	reqs []Request
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{release: make(chan struct{}), started: make(chan string, 64)}
}

func (g *gatedRunner) run(ctx context.Context, req Request) (*Result, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	g.started <- req.Query

	select {
	case <-g.release:
		return &Result{Answer: &generate.Answer{Text: "answer to " + req.Query}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func okRunner(_ context.Context, req Request) (*Result, error) {
	return &Result{
		Retrieval: &search.Result{Query: req.Query},
		Answer:    &generate.Answer{Text: "answer to " + req.Query},
	}, nil
}

func newTestManager(t *testing.T, cfg Config, run Runner, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, run, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitTerminal(t *testing.T, m *Manager, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		got, err := m.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func waitStatus(t *testing.T, m *Manager, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := m.GetStatus(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManager_CompletesJob(t *testing.T) {
	// Given: a manager with a succeeding runner
	m := newTestManager(t, Config{Workers: 1}, okRunner)

	// When: submitting
	job, err := m.Submit(context.Background(), Request{Query: "  what is attention?  "})

	// Then: the job is returned at once and eventually completes
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Contains(t, []Status{StatusPending, StatusRunning}, job.Status)
	assert.Equal(t, "what is attention?", job.Request.Query)

	done := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "answer to what is attention?", done.Result.Answer.Text)
	assert.Empty(t, done.Error)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.FinishedAt.Before(done.StartedAt))
}

func TestManager_AppliesDefaults(t *testing.T) {
	g := newGatedRunner()
	close(g.release)
	m := newTestManager(t, Config{Workers: 1, DefaultTopK: 7, DefaultAlpha: 0.25}, g.run)

	job, err := m.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	waitTerminal(t, m, job.ID)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.reqs, 1)
	assert.Equal(t, 7, g.reqs[0].TopK)
	require.NotNil(t, g.reqs[0].Alpha)
	assert.Equal(t, 0.25, *g.reqs[0].Alpha)
}

func TestManager_DefaultQueueSize(t *testing.T) {
	// Given: a config that leaves QueueSize unset and a blocked worker
	g := newGatedRunner()
	m := newTestManager(t, Config{Workers: 1}, g.run)
	assert.Equal(t, DefaultConfig().QueueSize, m.cfg.QueueSize)

	_, err := m.Submit(context.Background(), Request{Query: "running"})
	require.NoError(t, err)
	<-g.started

	// When: more jobs arrive back to back
	// Then: the default queue absorbs them
	for i := 0; i < DefaultConfig().QueueSize; i++ {
		_, err := m.Submit(context.Background(), Request{Query: "queued"})
		require.NoError(t, err, "submit %d", i)
	}
	_, err = m.Submit(context.Background(), Request{Query: "overflow"})
	assert.True(t, errors.IsBusy(err))
	close(g.release)
}

func TestManager_NegativeQueueSizeMeansNoWaiting(t *testing.T) {
	// Given: a negative QueueSize and a blocked worker
	g := newGatedRunner()
	m := newTestManager(t, Config{Workers: 1, QueueSize: -1}, g.run)
	assert.Equal(t, 0, m.cfg.QueueSize)

	_, err := m.Submit(context.Background(), Request{Query: "running"})
	require.NoError(t, err)
	<-g.started

	// When: a second job is submitted
	_, err = m.Submit(context.Background(), Request{Query: "second"})

	// Then: it is refused since no job may wait
	assert.True(t, errors.IsBusy(err))
	close(g.release)
}

func TestManager_FailingRunner(t *testing.T) {
	// Given: a runner whose downstream store is down
	run := func(context.Context, Request) (*Result, error) {
		return nil, errors.StoreUnavailable("search", nil)
	}
	m := newTestManager(t, Config{Workers: 1}, run)

	// When: a job runs
	job, err := m.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	done := waitTerminal(t, m, job.ID)

	// Then: the error is recorded on the job
	assert.Equal(t, StatusFailed, done.Status)
	assert.Nil(t, done.Result)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, done.ErrorCode)
	assert.Contains(t, done.Error, "search")
}

func TestManager_PanicDoesNotKillPool(t *testing.T) {
	// Given: a single worker whose first job panics
	var calls atomic.Int32
	run := func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return okRunner(ctx, req)
	}
	m := newTestManager(t, Config{Workers: 1}, run)

	first, err := m.Submit(context.Background(), Request{Query: "first"})
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), Request{Query: "second"})
	require.NoError(t, err)

	// Then: the panic fails its job and the worker keeps serving
	failed := waitTerminal(t, m, first.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "boom")
	assert.Equal(t, errors.ErrCodeInternal, failed.ErrorCode)

	assert.Equal(t, StatusCompleted, waitTerminal(t, m, second.ID).Status)
}

func TestManager_UnknownJob(t *testing.T) {
	m := newTestManager(t, Config{}, okRunner)

	_, err := m.GetStatus(context.Background(), "no-such-job")

	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Validation(t *testing.T) {
	m := newTestManager(t, Config{}, okRunner)
	bad := 1.5

	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"empty query", Request{Query: "   "}, errors.ErrCodeQueryEmpty},
		{"negative top_k", Request{Query: "q", TopK: -1}, errors.ErrCodeInvalidInput},
		{"alpha out of range", Request{Query: "q", Alpha: &bad}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestManager_BusyWhenSaturated(t *testing.T) {
	// Given: one worker and one queue slot, with the worker blocked
	g := newGatedRunner()
	metrics := telemetry.NewMetrics()
	m := newTestManager(t, Config{Workers: 1, QueueSize: 1}, g.run, WithMetrics(metrics))

	running, err := m.Submit(context.Background(), Request{Query: "running"})
	require.NoError(t, err)
	<-g.started
	queued, err := m.Submit(context.Background(), Request{Query: "queued"})
	require.NoError(t, err)

	// When: a third job is submitted
	_, err = m.Submit(context.Background(), Request{Query: "overflow"})

	// Then: it is refused with Busy instead of queueing without bound
	require.Error(t, err)
	assert.True(t, errors.IsBusy(err))

	// And: capacity returns once work drains
	close(g.release)
	waitTerminal(t, m, running.ID)
	waitTerminal(t, m, queued.ID)
	again, err := m.Submit(context.Background(), Request{Query: "later"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, m, again.ID).Status)

	srv := httptest.NewServer(metrics.Handler())
	t.Cleanup(srv.Close)
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "ragcore_jobs_rejected_total 1")
	assert.Contains(t, string(body), `ragcore_jobs_total{state="completed"} 3`)
}

func TestManager_CancelPending(t *testing.T) {
	// Given: a busy worker and a queued job
	g := newGatedRunner()
	m := newTestManager(t, Config{Workers: 1, QueueSize: 4}, g.run)

	running, err := m.Submit(context.Background(), Request{Query: "running"})
	require.NoError(t, err)
	<-g.started
	waitStatus(t, m, running.ID, StatusRunning)

	pending, err := m.Submit(context.Background(), Request{Query: "pending"})
	require.NoError(t, err)

	// When: cancelling both
	cancelled, err := m.Cancel(context.Background(), pending.ID)
	require.NoError(t, err)
	_, runErr := m.Cancel(context.Background(), running.ID)

	// Then: only the pending one is cancelled, and it never runs
	assert.Equal(t, StatusFailed, cancelled.Status)
	assert.True(t, cancelled.Cancelled)
	require.Error(t, runErr)
	assert.Equal(t, errors.ErrCodeJobNotCancellable, errors.GetCode(runErr))

	close(g.release)
	assert.Equal(t, StatusCompleted, waitTerminal(t, m, running.ID).Status)

	follow, err := m.Submit(context.Background(), Request{Query: "follow"})
	require.NoError(t, err)
	waitTerminal(t, m, follow.ID)
	assert.Equal(t, int32(2), g.calls.Load())

	_, err = m.Cancel(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Timeout(t *testing.T) {
	g := newGatedRunner()
	m := newTestManager(t, Config{Workers: 1, Timeout: 20 * time.Millisecond}, g.run)

	job, err := m.Submit(context.Background(), Request{Query: "slow"})
	require.NoError(t, err)
	done := waitTerminal(t, m, job.ID)

	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, errors.ErrCodeTimeout, done.ErrorCode)
}

func TestManager_ListAndStats(t *testing.T) {
	m := newTestManager(t, Config{Workers: 2}, okRunner)

	var ids []string
	for _, q := range []string{"a", "b", "c"} {
		job, err := m.Submit(context.Background(), Request{Query: q})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitTerminal(t, m, id)
	}

	jobs, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].CreatedAt.Before(jobs[i-1].CreatedAt))
	}

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats[StatusCompleted])
	assert.Equal(t, 0, stats[StatusPending])
}

func TestManager_Close(t *testing.T) {
	// Given: a blocked worker with a queued job behind it
	g := newGatedRunner()
	m, err := NewManager(Config{Workers: 1, QueueSize: 2}, g.run)
	require.NoError(t, err)

	running, err := m.Submit(context.Background(), Request{Query: "running"})
	require.NoError(t, err)
	<-g.started
	queued, err := m.Submit(context.Background(), Request{Query: "queued"})
	require.NoError(t, err)

	// When: closing with a short grace period
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	// Then: both jobs are terminal and further use is refused
	store := m.store.(*MemoryStore)
	r, err := store.Get(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	q, err := store.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, q.Status)

	_, err = m.Submit(context.Background(), Request{Query: "late"})
	assert.Error(t, err)
	assert.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestBoltStore_DurableJobs(t *testing.T) {
	// Given: a durable store holding a finished and an interrupted job
	path := filepath.Join(t.TempDir(), JobsFileName)
	st, err := NewBoltStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.Put(context.Background(), &Job{ID: "done", Status: StatusCompleted, CreatedAt: now,
		Result: &Result{Answer: &generate.Answer{Text: "kept"}}}))
	require.NoError(t, st.Put(context.Background(), &Job{ID: "stuck", Status: StatusRunning, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, st.Close())

	// When: a manager opens the store again
	st, err = NewBoltStore(path)
	require.NoError(t, err)
	m := newTestManager(t, Config{Workers: 1}, okRunner, WithStore(st))

	// Then: finished jobs survive and interrupted ones are failed
	done, err := m.GetStatus(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "kept", done.Result.Answer.Text)

	stuck, err := m.GetStatus(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stuck.Status)
	assert.Contains(t, stuck.Error, "interrupted")

	jobs, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "done", jobs[0].ID)

	_, err = m.GetStatus(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	s := NewMemoryStore()
	alpha := 0.3
	job := &Job{ID: "j", Status: StatusPending, Request: Request{Query: "q", Alpha: &alpha}}
	require.NoError(t, s.Put(context.Background(), job))

	job.Status = StatusRunning
	*job.Request.Alpha = 0.9

	got, err := s.Get(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0.3, *got.Request.Alpha)
}

// fakeQuerier returns a fixed result or error.
type fakeQuerier struct {
	result *search.Result
	err    error
	alpha  float64
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ int, alpha float64) (*search.Result, error) {
	f.alpha = alpha
	return f.result, f.err
}

func (f *fakeQuerier) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	return f.Query(ctx, req.Query, req.TopK, req.Alpha)
}

func TestQueryAndGenerate(t *testing.T) {
	alpha := 0.8
	q := &fakeQuerier{result: &search.Result{Query: "q", Hits: []search.Hit{}}}
	run := QueryAndGenerate(q, generate.NewExtractive(1))

	res, err := run(context.Background(), Request{Query: "q", TopK: 3, Alpha: &alpha})

	require.NoError(t, err)
	assert.Equal(t, 0.8, q.alpha)
	assert.Same(t, q.result, res.Retrieval)
	assert.Equal(t, generate.NoContextAnswer, res.Answer.Text)
}

func TestQueryAndGenerate_RetrievalFailure(t *testing.T) {
	q := &fakeQuerier{err: errors.QueryTooLong(5000, 2000)}
	run := QueryAndGenerate(q, generate.NewExtractive(1))

	_, err := run(context.Background(), Request{Query: "q"})

	assert.True(t, errors.IsQueryTooLong(err))
}
