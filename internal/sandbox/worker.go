package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
)

// exitMemory is the worker exit status for a blown memory ceiling.
const exitMemory = 3

// heapCheckInterval is how often the worker samples its heap.
const heapCheckInterval = 20 * time.Millisecond

// ServeWorker reads one request from r, runs it in process under the
// request's limits and writes the result to w as a single JSON line.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var req workerRequest
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	datasets := make(map[string]*frame.Frame, len(req.Datasets))
	for name, wf := range req.Datasets {
		f, err := decodeFrame(wf)
		if err != nil {
			return fmt.Errorf("decode dataset %q: %w", name, err)
		}
		datasets[name] = f
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if limit := int64(req.Limits.MemoryLimitMB) << 20; limit > 0 {
		debug.SetMemoryLimit(limit)
		go watchHeap(ctx, uint64(limit), func() { cancel(ErrMemoryLimit) }) //nolint:gosec // positive by the check above
	}

	res := NewInProcess(req.Limits, logger).Execute(ctx, datasets, req.Program)
	return json.NewEncoder(w).Encode(encodeResponse(res))
}

// watchHeap calls exceeded once the live heap passes limit. The soft limit
// set with debug.SetMemoryLimit only makes the collector work harder; this
// stops the program.
func watchHeap(ctx context.Context, limit uint64, exceeded func()) {
	ticker := time.NewTicker(heapCheckInterval)
	defer ticker.Stop()
	var stats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc > limit {
				exceeded()
				go func() {
					// A builtin that ignores cancellation is not allowed to
					// keep growing.
					time.Sleep(cancelGrace)
					os.Exit(exitMemory)
				}()
				return
			}
		}
	}
}
