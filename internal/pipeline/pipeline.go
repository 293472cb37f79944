// Package pipeline answers a question end to end: prompt, model call,
// sandboxed execution and result adaptation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/prompt"
	"github.com/leapstack-labs/leapask/internal/result"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/state"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Generator writes a program for a prompt.
type Generator interface {
	Generate(ctx context.Context, msgs prompt.Messages, opts llm.Options) (llm.Program, error)
	Model() string
}

// Config wires a Pipeline. Registry is required. A nil Generator is built
// from Model, which fails without an API key. A nil Executor runs programs
// in process with sandbox.DefaultLimits, and a nil History records nothing.
type Config struct {
	Registry        *dataset.Registry
	Generator       Generator
	Model           llm.Config
	GenerateOptions llm.Options
	Executor        sandbox.Executor
	History         state.Store
	Logger          *slog.Logger
}

// Pipeline answers questions against one registry. It is safe for
// concurrent use.
type Pipeline struct {
	registry  *dataset.Registry
	generator Generator
	genOpts   llm.Options
	executor  sandbox.Executor
	history   state.Store
	logger    *slog.Logger
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: no dataset registry")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	gen := cfg.Generator
	if gen == nil {
		g, err := llm.New(cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		gen = g
	}
	genOpts := cfg.GenerateOptions
	if genOpts == (llm.Options{}) {
		genOpts = llm.DefaultOptions()
	}

	exec := cfg.Executor
	if exec == nil {
		exec = sandbox.NewInProcess(sandbox.DefaultLimits(), logger)
	}
	history := cfg.History
	if history == nil {
		history = state.Nop{}
	}

	return &Pipeline{
		registry:  cfg.Registry,
		generator: gen,
		genOpts:   genOpts,
		executor:  exec,
		history:   history,
		logger:    logger,
	}, nil
}

// Registry returns the datasets questions are asked against.
func (p *Pipeline) Registry() *dataset.Registry { return p.registry }

// History returns the ask history store.
func (p *Pipeline) History() state.Store { return p.history }

// Model returns the name of the model programs are generated with.
func (p *Pipeline) Model() string { return p.generator.Model() }

// AskOptions tunes one ask.
type AskOptions struct {
	// NoCharts tells the model not to write visualization code.
	NoCharts bool
}

// Answer is the outcome of a question whose program was generated.
// Execution and display failures are reported in Payload.
type Answer struct {
	ID       uuid.UUID       `json:"id"`
	Question string          `json:"question"`
	Program  llm.Program     `json:"program"`
	Messages prompt.Messages `json:"-"`
	Result   sandbox.Result  `json:"-"`
	Payload  *result.Payload `json:"payload"`

	Generation time.Duration `json:"generation"`
	Execution  time.Duration `json:"execution"`
	Duration   time.Duration `json:"duration"`
}

// Messages builds the prompt for question without calling the model.
func (p *Pipeline) Messages(question string, opts AskOptions) prompt.Messages {
	return prompt.Build(p.registry.SchemaContext(), question, prompt.Options{IncludeCharts: !opts.NoCharts})
}

// Ask answers question. It returns an error for a blank question or a
// failed model call; in the latter case nothing is executed.
func (p *Pipeline) Ask(ctx context.Context, question string, opts AskOptions) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	id := uuid.New()
	logger := p.logger.With(slog.String("ask_id", id.String()))
	logger.Info("question received", slog.String("question", question), slog.Bool("charts", !opts.NoCharts))

	msgs := p.Messages(question, opts)
	program, err := p.generator.Generate(ctx, msgs, p.genOpts)
	generation := time.Since(start)
	if err != nil {
		logger.Warn("code generation failed", slog.String("error", err.Error()), slog.Duration("duration", generation))
		entry := &state.Entry{
			ID:         id,
			Question:   question,
			Status:     state.StatusGenerationFailed,
			Error:      err.Error(),
			Model:      p.generator.Model(),
			Generation: generation,
			Total:      time.Since(start),
		}
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			entry.ErrorKind = string(genErr.Kind)
		}
		p.record(ctx, logger, entry)
		return nil, err
	}
	logger.Debug("program generated", slog.Int("bytes", len(program)), slog.Duration("duration", generation))

	res := p.executor.Execute(ctx, p.registry.Frames(), string(program))
	payload, err := result.Adapt(res)
	if err != nil {
		logger.Warn("result cannot be displayed", slog.String("error", err.Error()))
		payload = result.FromError(err)
		payload.Output = res.Output
	}

	ans := &Answer{
		ID:         id,
		Question:   question,
		Program:    program,
		Messages:   msgs,
		Result:     res,
		Payload:    payload,
		Generation: generation,
		Execution:  res.Duration,
		Duration:   time.Since(start),
	}

	status := state.StatusAnswered
	if payload.Kind == result.KindError {
		status = state.StatusExecutionFailed
	}
	logger.Info("question answered",
		slog.String("status", string(status)),
		slog.String("payload", string(payload.Kind)),
		slog.Duration("duration", ans.Duration))

	p.record(ctx, logger, &state.Entry{
		ID:          id,
		Question:    question,
		Status:      status,
		PayloadKind: string(payload.Kind),
		ErrorKind:   payload.ErrorKind,
		Error:       errorMessage(payload),
		Model:       p.generator.Model(),
		Generation:  generation,
		Execution:   res.Duration,
		Total:       ans.Duration,
	})
	return ans, nil
}

// record stores an entry. History is best effort: a failed write is logged,
// never returned.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, e *state.Entry) {
	// The ask may have been cancelled; the history write should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.history.Record(ctx, e); err != nil {
		logger.Warn("failed to record ask", slog.String("error", err.Error()))
	}
}

func errorMessage(p *result.Payload) string {
	if p.Kind != result.KindError {
		return ""
	}
	return p.Message
}

// Report is the wire form of an Answer, with durations in milliseconds.
type Report struct {
	ID           uuid.UUID       `json:"id"`
	Question     string          `json:"question"`
	Program      llm.Program     `json:"program,omitempty"`
	Payload      *result.Payload `json:"payload"`
	GenerationMS int64           `json:"generation_ms"`
	ExecutionMS  int64           `json:"execution_ms"`
	DurationMS   int64           `json:"duration_ms"`
}

// Report returns the wire form of a. The program is included on request.
func (a *Answer) Report(withProgram bool) Report {
	r := Report{
		ID:           a.ID,
		Question:     a.Question,
		Payload:      a.Payload,
		GenerationMS: a.Generation.Milliseconds(),
		ExecutionMS:  a.Execution.Milliseconds(),
		DurationMS:   a.Duration.Milliseconds(),
	}
	if withProgram {
		r.Program = a.Program
	}
	return r
}
