package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"scoreforge/internal/model"
	"scoreforge/internal/renderer"
	"scoreforge/internal/results"
	"scoreforge/internal/store"
	"scoreforge/internal/workspace"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrUnsupportedFormat rejects a conversion pair outside the supported
	// table at admission, before any workspace is allocated.
	ErrUnsupportedFormat = errors.New("unsupported conversion format")
	// ErrNotReady is returned by Fetch while the job is not yet terminal.
	ErrNotReady = errors.New("job not finished")
	// ErrClosed is returned by Submit after shutdown has begun.
	ErrClosed = errors.New("orchestrator is shut down")
)

const (
	inputFileBase  = "input"
	outputFileBase = "output"
)

// Config holds orchestrator tuning values.
type Config struct {
	// Workers bounds concurrent engine invocations. The engine's offscreen
	// rendering path is not safe for unbounded parallel use, so this stays
	// small.
	Workers int
	// JobTimeout is the per-job engine deadline.
	JobTimeout time.Duration
}

// Orchestrator drives conversion jobs through a bounded worker pool.
type Orchestrator struct {
	cfg     Config
	store   store.Store
	spaces  *workspace.Manager
	sup     *renderer.Supervisor
	results *results.Store
	logger  *slog.Logger
	broker  *completionBroker

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	running map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// task pairs a pending job record with its input bytes while queued.
type task struct {
	job   model.Job
	input []byte
}

// New creates an orchestrator and starts its worker pool.
func New(cfg Config, s store.Store, spaces *workspace.Manager, sup *renderer.Supervisor, res *results.Store, logger *slog.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		cfg:     cfg,
		store:   s,
		spaces:  spaces,
		sup:     sup,
		results: res,
		logger:  logger,
		broker:  newCompletionBroker(),
		running: make(map[string]context.CancelFunc),
	}
	o.cond = sync.NewCond(&o.mu)

	// Jobs left non-terminal by a previous process can never finish; fail
	// them now so status queries and waits on recovered IDs resolve.
	if n, err := s.RecoverInterrupted(context.Background()); err != nil {
		logger.Error("failed to recover interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Submit admits a conversion request and enqueues it FIFO. It never blocks
// on a worker slot: the job is stored as pending and the returned record
// carries the ID for later status and fetch calls.
func (o *Orchestrator) Submit(ctx context.Context, input []byte, inputFormat, outputFormat string) (*model.Job, error) {
	inputFormat = strings.ToLower(inputFormat)
	outputFormat = strings.ToLower(outputFormat)

	if !model.SupportedConversion(inputFormat, outputFormat) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, inputFormat, outputFormat)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.mu.Unlock()

	hash := blake3.Sum256(input)
	job := model.Job{
		ID:           model.NewID(),
		Status:       model.StatusPending,
		InputFormat:  inputFormat,
		OutputFormat: outputFormat,
		InputSize:    int64(len(input)),
		InputHash:    hex.EncodeToString(hash[:]),
		CreatedAt:    time.Now().UTC(),
	}

	if err := o.store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		// Shutdown began between the admission check and the enqueue; the
		// persisted row must not stay pending.
		o.finishCanceled(job, nil)
		return nil, ErrClosed
	}
	o.queue = append(o.queue, &task{job: job, input: input})
	queueDepth.Inc()
	o.cond.Signal()
	o.mu.Unlock()

	o.logger.Info("job submitted",
		"job_id", job.ID,
		"input_format", inputFormat,
		"output_format", outputFormat,
		"input_size", job.InputSize,
	)
	return &job, nil
}

// Status returns the job record for the given ID.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// Fetch returns the result for a terminal job. It returns ErrNotReady while
// the job is pending or running, and store.ErrNotFound for unknown IDs or
// results already evicted from the retention window.
func (o *Orchestrator) Fetch(ctx context.Context, jobID string) (*model.Result, error) {
	res, err := o.results.Get(jobID)
	if err == nil {
		return res, nil
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !model.Terminal(job.Status) {
		return nil, ErrNotReady
	}
	// Terminal but absent from the result store: evicted.
	return nil, store.ErrNotFound
}

// Wait blocks until the job reaches a terminal state or ctx expires.
// Callers polling Status instead of blocking is equally supported.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	done := o.broker.Subscribe(jobID)

	// The job may have finished before this process learned about it
	// (records persist across restarts); a status check settles it.
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if model.Terminal(job.Status) {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation. A pending job is removed from the queue; a
// running job has its engine terminated through the same path as a timeout;
// a terminal job is left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	for i, t := range o.queue {
		if t.job.ID != jobID {
			continue
		}
		o.queue = append(o.queue[:i], o.queue[i+1:]...)
		queueDepth.Dec()
		o.mu.Unlock()
		o.finishCanceled(t.job, nil)
		return nil
	}
	if cancel, ok := o.running[jobID]; ok {
		o.mu.Unlock()
		cancel()
		return nil
	}
	o.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if model.Terminal(job.Status) {
		return nil // cancellation of a finished job is a no-op
	}
	// Narrow race: the job left the queue but is not yet registered as
	// running. Let it run; the caller may retry.
	return nil
}

// Close stops accepting submissions, drains queued jobs as canceled, lets
// running jobs finish, and waits for the workers to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	drained := o.queue
	o.queue = nil
	o.cond.Broadcast()
	o.mu.Unlock()

	for _, t := range drained {
		queueDepth.Dec()
		o.finishCanceled(t.job, nil)
	}

	o.wg.Wait()
}

// worker pops tasks in FIFO order until shutdown.
func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		t, ctx, cancel := o.next()
		if t == nil {
			return
		}
		o.runJob(ctx, cancel, t)
	}
}

// next blocks for the next task. The per-job context is created and the
// cancel func registered under the same lock as the dequeue so Cancel never
// observes a job that is in neither the queue nor the running set.
func (o *Orchestrator) next() (*task, context.Context, context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.queue) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.queue) == 0 {
		return nil, nil, nil
	}

	t := o.queue[0]
	o.queue = o.queue[1:]
	queueDepth.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.JobTimeout)
	o.running[t.job.ID] = cancel
	return t, ctx, cancel
}

// runJob executes one conversion: workspace, input staging, engine
// invocation, outcome interpretation, result capture, cleanup.
func (o *Orchestrator) runJob(ctx context.Context, cancel context.CancelFunc, t *task) {
	job := t.job
	defer cancel()
	defer func() {
		o.mu.Lock()
		delete(o.running, job.ID)
		o.mu.Unlock()
	}()

	if err := o.store.UpdateJobStatus(context.Background(), job.ID, model.StatusRunning); err != nil {
		o.logger.Error("failed to transition to running", "job_id", job.ID, "error", err)
		o.finishFailure(job, nil, model.FailEngineError, fmt.Sprintf("start job: %v", err), nil)
		return
	}
	start := time.Now()

	dir, err := o.spaces.Acquire(job.ID)
	if err != nil {
		o.finishFailure(job, &start, model.FailResourceExhausted, err.Error(), nil)
		return
	}
	// Release runs on every exit path, after the artifact (if any) has been
	// copied out of the workspace.
	defer o.spaces.Release(job.ID)

	inPath := filepath.Join(dir, inputFileBase+model.InputExtension(job.InputFormat))
	outPath := filepath.Join(dir, outputFileBase+model.OutputExtension(job.OutputFormat))
	if err := os.WriteFile(inPath, t.input, 0o600); err != nil {
		o.finishFailure(job, &start, model.FailResourceExhausted, fmt.Sprintf("stage input: %v", err), nil)
		return
	}

	outcome := o.sup.Render(ctx, dir, inPath, outPath)

	switch outcome.Kind {
	case renderer.OutcomeSpawnFailed:
		// A cancel landing before the engine started makes Start fail with
		// the context error; that is a cancellation, not a spawn failure.
		if errors.Is(outcome.Err, context.Canceled) {
			o.finishCanceled(job, &start)
			return
		}
		o.finishFailure(job, &start, model.FailSpawnFailed, outcome.Err.Error(), nil)

	case renderer.OutcomeTimedOut:
		if errors.Is(outcome.Err, context.Canceled) {
			o.finishCanceled(job, &start)
			return
		}
		diag := fmt.Sprintf("engine exceeded %s deadline", o.cfg.JobTimeout)
		if tail := diagnosticTail(outcome.Stderr); tail != "" {
			diag += "; stderr: " + tail
		}
		o.finishTimedOut(job, &start, diag)

	case renderer.OutcomeCompleted:
		o.interpretCompleted(job, &start, outPath, outcome)
	}
}

// interpretCompleted applies the success oracle: exit code zero AND a
// non-empty expected output file. The engine can exit 0 without producing
// output, or write a usable file and still exit nonzero; neither signal is
// trusted alone.
func (o *Orchestrator) interpretCompleted(job model.Job, start *time.Time, outPath string, outcome renderer.Outcome) {
	artifactPath, size, findErr := renderer.FindOutput(outPath)

	if outcome.ExitCode != 0 || findErr != nil {
		diag := diagnosticTail(outcome.Stderr)
		if diag == "" {
			diag = diagnosticTail(outcome.Stdout)
		}
		if findErr != nil {
			if diag != "" {
				diag += "; "
			}
			diag += findErr.Error()
		}
		o.finishFailure(job, start, model.FailEngineError, diag, &outcome.ExitCode)
		return
	}

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		o.finishFailure(job, start, model.FailEngineError, fmt.Sprintf("read artifact: %v", err), &outcome.ExitCode)
		return
	}

	now := time.Now().UTC()
	dur := int(now.Sub(*start).Milliseconds())
	exit := outcome.ExitCode
	finished := model.Job{
		ID:           job.ID,
		Status:       model.StatusSucceeded,
		ExitCode:     &exit,
		ArtifactSize: &size,
		DurationMS:   &dur,
		FinishedAt:   &now,
	}

	res := &model.Result{
		Artifact: &model.Artifact{
			Bytes:  data,
			Format: job.OutputFormat,
			Size:   size,
		},
	}
	o.commit(job, finished, res)
	o.logger.Info("job succeeded",
		"job_id", job.ID,
		"output_format", job.OutputFormat,
		"artifact_size", size,
		"duration_ms", dur,
	)
}

func (o *Orchestrator) finishTimedOut(job model.Job, start *time.Time, diag string) {
	o.finishTerminal(job, start, model.StatusTimedOut, &model.Failure{
		Kind:       model.FailTimedOut,
		Diagnostic: diag,
	})
}

func (o *Orchestrator) finishCanceled(job model.Job, start *time.Time) {
	o.finishTerminal(job, start, model.StatusCanceled, &model.Failure{
		Kind:       model.FailCanceled,
		Diagnostic: "canceled by caller",
	})
}

func (o *Orchestrator) finishFailure(job model.Job, start *time.Time, kind, diag string, exitCode *int) {
	o.finishTerminal(job, start, model.StatusFailed, &model.Failure{
		Kind:       kind,
		Diagnostic: diag,
		ExitCode:   exitCode,
	})
}

func (o *Orchestrator) finishTerminal(job model.Job, start *time.Time, status string, failure *model.Failure) {
	now := time.Now().UTC()
	var dur *int
	if start != nil {
		d := int(now.Sub(*start).Milliseconds())
		dur = &d
	}
	finished := model.Job{
		ID:          job.ID,
		Status:      status,
		FailureKind: failure.Kind,
		Diagnostic:  failure.Diagnostic,
		ExitCode:    failure.ExitCode,
		DurationMS:  dur,
		FinishedAt:  &now,
	}
	o.commit(job, finished, &model.Result{Failure: failure})

	o.logger.Warn("job did not produce an artifact",
		"job_id", job.ID,
		"status", status,
		"failure_kind", failure.Kind,
		"diagnostic", failure.Diagnostic,
	)
}

// commit writes the result before the job record so that a terminal status
// is never observable while the result is still missing, then wakes
// blocked fetchers.
func (o *Orchestrator) commit(job model.Job, finished model.Job, res *model.Result) {
	if err := o.results.Put(job.ID, res); err != nil {
		o.logger.Error("result store rejected write", "job_id", job.ID, "error", err)
	}
	if err := o.store.FinishJob(context.Background(), &finished); err != nil {
		o.logger.Error("failed to record terminal state", "job_id", job.ID, "error", err)
	}
	jobsTotal.WithLabelValues(job.OutputFormat, finished.Status).Inc()
	o.broker.Finish(job.ID)
}

// diagnosticTail returns the last few lines of captured engine output,
// which is where the engine prints its load and export errors.
func diagnosticTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
