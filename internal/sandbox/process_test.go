package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkerHelper is not a real test. The process tests re-execute the test
// binary with it selected and a mode after "--"; the environment is empty
// so the mode has to travel in argv.
func TestWorkerHelper(t *testing.T) {
	mode := ""
	for i, arg := range os.Args {
		if arg == "--" && i+1 < len(os.Args) {
			mode = os.Args[i+1]
		}
	}
	switch mode {
	case "":
		return
	case "worker":
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "env":
		if len(os.Environ()) != 0 {
			os.Exit(4)
		}
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "hang":
		time.Sleep(time.Hour)
	case "crash":
		os.Exit(7)
	case "oom":
		os.Exit(exitMemory)
	case "garbage":
		_, _ = os.Stdout.WriteString("not json\n")
		os.Exit(0)
	}
}

func helperProcess(t *testing.T, mode string, limits Limits) *Process {
	t.Helper()
	p, err := NewProcess(ProcessConfig{
		Command:   []string{os.Args[0], "-test.run=^TestWorkerHelper$", "--", mode},
		Limits:    limits,
		KillGrace: 200 * time.Millisecond,
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return p
}

func TestProcess_Success(t *testing.T) {
	p := helperProcess(t, "worker", testLimits())
	res := p.Execute(context.Background(), testDatasets(t), `
print("rows", len(orders))
result = orders.head(2)
`)
	requireOK(t, res)

	tbl, ok := res.Value.(Table)
	require.True(t, ok, "got %T", res.Value)
	assert.Equal(t, 2, tbl.Frame.NumRows())
	assert.Equal(t, []string{"order_id", "customer_id", "amount", "order_date"}, tbl.Frame.Names())
	col, _ := tbl.Frame.Column("order_date")
	assert.Equal(t, []any{day(1), day(2)}, col.Values)
	assert.Equal(t, "result", res.ResultFrom)
	assert.Equal(t, "rows 4\n", res.Output)
	assert.Positive(t, res.Steps)
	assert.Positive(t, res.Duration)
}

func TestProcess_EmptyEnvironment(t *testing.T) {
	t.Setenv("LEAPASK_SECRET", "hunter2")
	p := helperProcess(t, "env", testLimits())
	res := p.Execute(context.Background(), testDatasets(t), "result = 1")
	requireOK(t, res)
	assert.Equal(t, Scalar{V: int64(1)}, res.Value)
}

func TestProcess_Chart(t *testing.T) {
	p := helperProcess(t, "worker", testLimits())
	res := p.Execute(context.Background(), testDatasets(t), `
import plotly.express as px
fig = px.bar(orders, x="order_id", y="amount", title="Amounts")
`)
	requireOK(t, res)
	require.NotNil(t, res.Chart)
	assert.Equal(t, "Amounts", res.Chart.Layout.Title)
	require.Len(t, res.Chart.Traces, 1)
	assert.Equal(t, []any{10.0, 20.0, 30.0, 5.0}, res.Chart.Traces[0].Y)
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		limits   Limits
		program  string
		wantKind ErrorKind
		wantLine int
		wantMsg  string
	}{
		{
			name:     "runtime error from worker",
			mode:     "worker",
			limits:   testLimits(),
			program:  "x = 1\ny = 0\nresult = x // y\n",
			wantKind: KindRuntime,
			wantLine: 3,
		},
		{
			name:     "forbidden import never starts a worker",
			mode:     "crash",
			limits:   testLimits(),
			program:  "import os\n",
			wantKind: KindForbidden,
			wantLine: 1,
		},
		{
			name:     "hung worker is killed",
			mode:     "hang",
			limits:   Limits{Timeout: 100 * time.Millisecond},
			program:  "result = 1",
			wantKind: KindTimeout,
			wantMsg:  "killed",
		},
		{
			name:     "crash",
			mode:     "crash",
			limits:   testLimits(),
			program:  "result = 1",
			wantKind: KindInternal,
			wantMsg:  "status 7",
		},
		{
			name:     "memory ceiling",
			mode:     "oom",
			limits:   Limits{Timeout: time.Second, MemoryLimitMB: 64},
			program:  "result = 1",
			wantKind: KindResource,
			wantMsg:  "64 MB",
		},
		{
			name:     "unreadable reply",
			mode:     "garbage",
			limits:   testLimits(),
			program:  "result = 1",
			wantKind: KindInternal,
			wantMsg:  "worker reply",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := helperProcess(t, tt.mode, tt.limits).Execute(context.Background(), testDatasets(t), tt.program)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.wantKind, res.Err.Kind, res.Err.Error())
			assert.Equal(t, tt.wantLine, res.Err.Line)
			if tt.wantMsg != "" {
				assert.Contains(t, res.Err.Message, tt.wantMsg)
			}
			assert.Nil(t, res.Value)
			assert.Nil(t, res.Chart)
		})
	}
}

func TestProcess_MissingBinary(t *testing.T) {
	p, err := NewProcess(ProcessConfig{Command: []string{"/nonexistent/leapask"}, Limits: testLimits()}, nil)
	require.NoError(t, err)
	res := p.Execute(context.Background(), testDatasets(t), "result = 1")
	require.NotNil(t, res.Err)
	assert.Equal(t, KindInternal, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "start worker")
}

func TestNewProcess_DefaultCommand(t *testing.T) {
	p, err := NewProcess(ProcessConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, p.cfg.Command, 2)
	assert.Equal(t, WorkerCommand, p.cfg.Command[1])
	assert.Equal(t, DefaultKillGrace, p.cfg.KillGrace)
}

func TestServeWorker(t *testing.T) {
	req := workerRequest{
		Program:  "result = customers[\"name\"].tolist()",
		Datasets: map[string]wireFrame{},
		Limits:   testLimits(),
	}
	for name, f := range testDatasets(t) {
		req.Datasets[name] = encodeFrame(f)
	}
	var in bytes.Buffer
	require.NoError(t, json.NewEncoder(&in).Encode(req))

	var out bytes.Buffer
	require.NoError(t, ServeWorker(context.Background(), &in, &out, testutil.NewTestLogger(t)))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"), "the reply is a single line")

	res, err := decodeResponse(out.Bytes())
	require.NoError(t, err)
	requireOK(t, res)
	assert.Equal(t, List{Items: []any{"Ada", "Grace", "Linus"}}, res.Value)
}

func TestServeWorker_BadRequest(t *testing.T) {
	err := ServeWorker(context.Background(), strings.NewReader("{"), &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request")
}

func TestDecodeResponse_Empty(t *testing.T) {
	_, err := decodeResponse([]byte("\n\n"))
	assert.EqualError(t, err, "empty reply")
}
