package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// OutcomeKind classifies one engine invocation.
type OutcomeKind int

const (
	// OutcomeCompleted means the process ran to exit (any exit code).
	OutcomeCompleted OutcomeKind = iota
	// OutcomeTimedOut means the deadline or cancellation fired and the
	// process was terminated.
	OutcomeTimedOut
	// OutcomeSpawnFailed means the process never started.
	OutcomeSpawnFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Outcome holds the raw signals from one engine invocation. Exit code alone
// is not authoritative: the engine may exit 0 without producing output.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Supervisor launches the engine as a bounded-lifetime subprocess.
type Supervisor struct {
	bin        string
	grace      time.Duration
	maxCapture int
	logger     *slog.Logger
}

// New creates a supervisor for the engine binary at bin. grace is the delay
// between the termination signal and force-kill; maxCapture bounds how much
// of each standard stream is retained.
func New(bin string, grace time.Duration, maxCapture int, logger *slog.Logger) *Supervisor {
	if maxCapture <= 0 {
		maxCapture = 64 << 10
	}
	return &Supervisor{
		bin:        bin,
		grace:      grace,
		maxCapture: maxCapture,
		logger:     logger,
	}
}

// Render invokes the engine to convert inputPath into outputPath, working
// inside workDir. The deadline comes from ctx; on expiry the process gets
// SIGTERM, then SIGKILL after the grace period.
func (s *Supervisor) Render(ctx context.Context, workDir, inputPath, outputPath string) Outcome {
	start := time.Now()

	cmd := exec.CommandContext(ctx, s.bin, BuildArgs(inputPath, outputPath)...)
	cmd.Dir = workDir
	cmd.Env = engineEnv(workDir)
	// Stdin stays nil so the child reads from /dev/null; the engine must
	// never block on an interactive prompt.
	//
	// The engine runs as its own process group: it spawns helpers (audio
	// encoders, plugin hosts) that must die with it, so termination signals
	// go to the whole group, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	stdout := newLimitBuffer(s.maxCapture)
	stderr := newLimitBuffer(s.maxCapture)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		rendersTotal.WithLabelValues(OutcomeSpawnFailed.String()).Inc()
		return Outcome{
			Kind: OutcomeSpawnFailed,
			Err:  fmt.Errorf("start engine %s: %w", s.bin, err),
		}
	}

	waitErr := cmd.Wait()
	renderSeconds.Observe(time.Since(start).Seconds())

	if ctxErr := ctx.Err(); ctxErr != nil {
		// WaitDelay's force-kill reaches only the direct child; sweep the
		// rest of the process group so no engine helper survives.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		rendersTotal.WithLabelValues(OutcomeTimedOut.String()).Inc()
		s.logger.Warn("engine terminated",
			"bin", s.bin,
			"reason", ctxErr.Error(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Outcome{
			Kind:   OutcomeTimedOut,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    ctxErr,
		}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			rendersTotal.WithLabelValues(OutcomeSpawnFailed.String()).Inc()
			return Outcome{
				Kind:   OutcomeSpawnFailed,
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Err:    fmt.Errorf("wait engine: %w", waitErr),
			}
		}
	}

	rendersTotal.WithLabelValues(OutcomeCompleted.String()).Inc()
	return Outcome{
		Kind:     OutcomeCompleted,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}

// engineEnv builds the child environment. QT_QPA_PLATFORM must be set for
// the child process itself: it configures the engine's toolkit backend, and
// inheriting the orchestrator's value is not enough when the orchestrator
// runs outside a display server.
func engineEnv(workDir string) []string {
	return []string{
		"QT_QPA_PLATFORM=offscreen",
		"XDG_RUNTIME_DIR=" + workDir,
		"HOME=" + workDir,
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}
}

// limitBuffer retains at most max bytes and counts the rest as dropped,
// guarding against a runaway process emitting diagnostic spam.
type limitBuffer struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	dropped int
}

func newLimitBuffer(max int) *limitBuffer {
	return &limitBuffer{max: max}
}

func (b *limitBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.max - len(b.buf)
	if room > 0 {
		if room > len(p) {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	b.dropped += len(p) - room
	// Report full consumption so the child never blocks on a full pipe.
	return len(p), nil
}

func (b *limitBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped > 0 {
		return fmt.Sprintf("%s\n[truncated %d bytes]", b.buf, b.dropped)
	}
	return string(b.buf)
}
