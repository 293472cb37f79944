package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/leapstack-labs/leapask/internal/chart"
	"github.com/leapstack-labs/leapask/internal/frame"
)

// WorkerCommand is the hidden subcommand that serves one execution.
const WorkerCommand = "sandbox-worker"

// DefaultKillGrace is the time a worker gets past its own timeout before it
// is killed.
const DefaultKillGrace = 2 * time.Second

const maxStderr = 8 << 10

// ProcessConfig configures a Process runner.
type ProcessConfig struct {
	// Command is the worker argv. It defaults to re-executing the current
	// binary with WorkerCommand.
	Command []string
	Limits  Limits
	// KillGrace is added to Limits.Timeout before the worker is killed.
	KillGrace time.Duration
}

// Process runs each program in a fresh child process with an empty
// environment, a memory ceiling and a hard kill deadline.
type Process struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

// NewProcess creates a process-isolated runner.
func NewProcess(cfg ProcessConfig, logger *slog.Logger) (*Process, error) {
	if len(cfg.Command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable for sandbox worker: %w", err)
		}
		cfg.Command = []string{exe, WorkerCommand}
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Process{cfg: cfg, logger: logger}, nil
}

// Execute implements Executor.
func (p *Process) Execute(ctx context.Context, datasets map[string]*frame.Frame, program string) (res Result) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			p.logger.Debug("worker finished", slog.String("outcome", string(res.Err.Kind)), slog.Duration("duration", res.Duration))
		} else {
			p.logger.Debug("worker finished", slog.String("outcome", "ok"), slog.Duration("duration", res.Duration))
		}
	}()

	// Imports are checked here too so the common failure needs no process.
	if _, ierr := normalizeImports(program); ierr != nil {
		return failure(ierr, "")
	}

	req := workerRequest{Program: program, Datasets: make(map[string]wireFrame, len(datasets)), Limits: p.cfg.Limits}
	for name, f := range datasets {
		req.Datasets[name] = encodeFrame(f)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return failure(errorf(KindInternal, 0, "encode worker request: %v", err), "")
	}

	if p.cfg.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.Timeout+p.cfg.KillGrace)
		defer cancel()
	}

	var stdout bytes.Buffer
	stderr := &limitedBuffer{limit: maxStderr}
	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...) //nolint:gosec // argv is configured, not user input
	cmd.Env = []string{}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return failure(errorf(KindTimeout, 0, "execution exceeded %s and the worker was killed", p.cfg.Limits.Timeout), "")
	}
	if runErr != nil {
		return failure(p.exitError(runErr, stderr.String()), "")
	}

	resp, err := decodeResponse(stdout.Bytes())
	if err != nil {
		return failure(errorf(KindInternal, 0, "worker reply: %v", err), "")
	}
	return resp
}

func (p *Process) exitError(err error, stderr string) *ExecutionError {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return errorf(KindInternal, 0, "start worker: %v", err)
	}
	p.logger.Debug("worker failed", slog.Int("exit_code", exitErr.ExitCode()), slog.String("stderr", stderr))
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return errorf(KindResource, 0, "worker killed by %s (out of memory?)", status.Signal())
	}
	if exitErr.ExitCode() == exitMemory {
		return errorf(KindResource, 0, "memory limit of %d MB exceeded", p.cfg.Limits.MemoryLimitMB)
	}
	return errorf(KindInternal, 0, "worker exited with status %d", exitErr.ExitCode())
}

// decodeResponse reads the last non-empty line of the worker's stdout.
func decodeResponse(out []byte) (Result, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := lines[len(lines)-1]
	if len(last) == 0 {
		return Result{}, errors.New("empty reply")
	}

	dec := json.NewDecoder(bytes.NewReader(last))
	dec.UseNumber()
	var resp workerResponse
	if err := dec.Decode(&resp); err != nil {
		return Result{}, err
	}
	if resp.Err != nil {
		return failure(resp.Err, resp.Output), nil
	}
	v, err := decodeValue(resp.Value)
	if err != nil {
		return Result{}, err
	}
	res := success(v, resp.Chart, resp.ResultFrom, resp.Output)
	res.Steps, res.Cells = resp.Steps, resp.Cells
	return res, nil
}

func encodeResponse(r Result) workerResponse {
	var fig *chart.Figure
	if r.Err == nil {
		fig = r.Chart
	}
	return workerResponse{
		Value:      encodeValue(r.Value),
		Chart:      fig,
		Output:     r.Output,
		ResultFrom: r.ResultFrom,
		Err:        r.Err,
		Steps:      r.Steps,
		Cells:      r.Cells,
	}
}

type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
