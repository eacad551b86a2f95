package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calico0/parley/internal/persona"
	"github.com/calico0/parley/internal/tools"
)

// Default suspension-point timeouts. Both streams and the tool invocation
// are the only points where a turn waits on external work; expiry is treated
// as a turn failure so a connection never holds resources unbounded.
const (
	DefaultStreamTimeout = 60 * time.Second
	DefaultToolTimeout   = 10 * time.Second
)

// specialReportToken tags translations that mention weather. This is a
// best-effort classifier for later filtering, not a tool-use detector:
// the flag is set from the input text alone, independent of whether the
// model actually called the weather tool.
const specialReportToken = "weather"

// IsSpecialReport classifies the input text for the special-report flag.
// The one classifier is shared by the orchestrator (persistence) and the
// API layer (response field) so the two can never disagree.
func IsSpecialReport(text string) bool {
	return strings.Contains(strings.ToLower(text), specialReportToken)
}

// Backend produces a finite, ordered sequence of stream fragments for one
// generation request. The sequence is not restartable.
type Backend interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Fragment, error]
}

// ToolInvoker executes a named tool synchronously.
// Implementations return tools.ErrNotFound for unregistered names.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// PersonaResolver maps a persona id to its profile, falling back to a
// default for unknown ids.
type PersonaResolver interface {
	Resolve(id string) persona.Persona
}

// Record is one completed translation turn, ready to persist.
type Record struct {
	UserID         int64
	OriginalText   string
	TranslatedText string
	SpecialReport  bool
}

// Recorder durably appends one Record per completed turn.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Transport is the per-connection outbound channel to one client.
// Chunks are order-significant; SendComplete is terminal for the turn.
type Transport interface {
	SendChunk(ctx context.Context, text string) error
	SendComplete(ctx context.Context) error
}

// turnState tracks a turn through its lifecycle for logging and invariants.
type turnState int

const (
	stateIdle turnState = iota
	stateStreaming1
	stateToolExecuting
	stateStreaming2
	stateErrored
	stateCompleted
)

func (s turnState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStreaming1:
		return "streaming1"
	case stateToolExecuting:
		return "tool_executing"
	case stateStreaming2:
		return "streaming2"
	case stateErrored:
		return "errored"
	case stateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Config contains all required parameters for the Orchestrator.
type Config struct {
	Backend  Backend
	Tools    ToolInvoker
	Personas PersonaResolver
	Recorder Recorder
	Logger   *slog.Logger

	// ToolDecls is the full tool declaration set advertised on every
	// generation request.
	ToolDecls []tools.Declaration

	// Zero values use DefaultStreamTimeout / DefaultToolTimeout.
	StreamTimeout time.Duration
	ToolTimeout   time.Duration
}

func (cfg Config) validate() error {
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool invoker is required")
	}
	if cfg.Personas == nil {
		return errors.New("persona resolver is required")
	}
	if cfg.Recorder == nil {
		return errors.New("recorder is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator owns one streaming turn end to end.
//
// It is stateless between turns and safe for concurrent use: turns for
// different connections run fully independently, sharing only the tool
// registry (immutable) and the recorder (per-record inserts).
type Orchestrator struct {
	backend       Backend
	tools         ToolInvoker
	personas      PersonaResolver
	recorder      Recorder
	logger        *slog.Logger
	toolDecls     []tools.Declaration
	streamTimeout time.Duration
	toolTimeout   time.Duration
}

// New creates an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	streamTimeout := cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	return &Orchestrator{
		backend:       cfg.Backend,
		tools:         cfg.Tools,
		personas:      cfg.Personas,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		toolDecls:     cfg.ToolDecls,
		streamTimeout: streamTimeout,
		toolTimeout:   toolTimeout,
	}, nil
}

// HandleTurn runs one complete turn for the authenticated user.
//
// Rejections with no transport side effects: ErrAuthRequired when userID is
// not a resolvable identity, ErrEmptyInput when rawText is blank (no
// generation is attempted and no events are emitted).
//
// Any failure after generation starts emits a single in-character error
// chunk followed by the completion signal, so the client is never left
// waiting. Nothing is persisted on failure. A persistence failure after the
// response has been fully streamed is logged server-side only; the
// already-sent stream is not disturbed.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID int64, rawText, personaID string, transport Transport) error {
	if userID <= 0 {
		return ErrAuthRequired
	}
	if strings.TrimSpace(rawText) == "" {
		return ErrEmptyInput
	}

	p := o.personas.Resolve(personaID)
	specialReport := IsSpecialReport(rawText)

	logger := o.logger.With(
		"turn_id", uuid.NewString(),
		"user_id", userID,
		"persona", p.ID,
	)

	state := stateStreaming1
	logger.Debug("turn started", "state", state, "special_report", specialReport)

	var acc strings.Builder

	req := Request{
		System: p.Instruction,
		Tools:  o.toolDecls,
		Turns:  []Turn{UserTurn(rawText)},
	}

	call, err := o.consume(ctx, req, &acc, transport, true)
	if err != nil {
		return o.fail(ctx, logger, p, transport, state, err)
	}

	if call != nil {
		state = stateToolExecuting
		logger.Debug("tool call detected", "state", state, "tool", call.Name)

		output, err := o.invokeTool(ctx, call)
		if err != nil {
			return o.fail(ctx, logger, p, transport, state, err)
		}

		state = stateStreaming2
		logger.Debug("resuming stream with tool result", "state", state, "tool", call.Name)

		req.Turns = Continuation(rawText, call, output)
		if nested, err := o.consume(ctx, req, &acc, transport, false); err != nil {
			return o.fail(ctx, logger, p, transport, state, err)
		} else if nested != nil {
			// Single-hop constraint: a second tool call is skipped, not executed.
			logger.Warn("skipping nested tool call in continuation stream", "tool", nested.Name)
		}
	}

	if err := transport.SendComplete(ctx); err != nil {
		return fmt.Errorf("sending completion: %w", err)
	}
	state = stateCompleted
	logger.Debug("turn completed", "state", state, "chars", acc.Len())

	rec := Record{
		UserID:         userID,
		OriginalText:   rawText,
		TranslatedText: acc.String(),
		SpecialReport:  specialReport,
	}
	if err := o.recorder.Record(ctx, rec); err != nil {
		// The client already has the full answer; surface the failure
		// server-side only and leave the sent stream alone.
		logger.Error("recording translation", "error", err)
	}

	return nil
}

// consume drains one generation stream, forwarding text deltas in arrival
// order and accumulating them.
//
// When haltOnCall is true (first stream), consumption stops at the first
// tool call fragment and the call is returned without draining the rest:
// at most one tool call dominates the first response burst. When false
// (continuation stream), tool call fragments are recorded but skipped.
func (o *Orchestrator) consume(ctx context.Context, req Request, acc *strings.Builder, transport Transport, haltOnCall bool) (*ToolCall, error) {
	streamCtx, cancel := context.WithTimeout(ctx, o.streamTimeout)
	defer cancel()

	var call *ToolCall
	for frag, err := range o.backend.Stream(streamCtx, req) {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackend, err)
		}
		if frag.IsToolCall() {
			if call == nil {
				call = frag.Call
			}
			if haltOnCall {
				return call, nil
			}
			continue
		}
		if frag.Text == "" {
			continue
		}
		acc.WriteString(frag.Text)
		if err := transport.SendChunk(ctx, frag.Text); err != nil {
			return nil, fmt.Errorf("forwarding chunk: %w", err)
		}
	}
	return call, nil
}

func (o *Orchestrator) invokeTool(ctx context.Context, call *ToolCall) (string, error) {
	toolCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
	defer cancel()
	return o.tools.Invoke(toolCtx, call.Name, call.Args)
}

// fail converts a turn failure into a single in-character error chunk plus
// the completion signal, so the transport is never left hanging. Nothing is
// persisted. If the client is already gone (context canceled), no events
// are written at all.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, p persona.Persona, transport Transport, state turnState, cause error) error {
	logger.Warn("turn failed", "state", state, "error", cause)

	if ctx.Err() != nil {
		return fmt.Errorf("turn canceled in state %s: %w", state, ctx.Err())
	}

	msg := p.ErrorPrefix + " " + failureMessage(cause)
	if err := transport.SendChunk(ctx, msg); err != nil {
		return fmt.Errorf("sending error chunk: %w", err)
	}
	if err := transport.SendComplete(ctx); err != nil {
		return fmt.Errorf("sending completion after error: %w", err)
	}
	return cause
}

// failureMessage keeps user-facing failures in voice without leaking
// backend internals into the stream.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, tools.ErrNotFound):
		return "Me crew knows no such trick."
	case errors.Is(err, context.DeadlineExceeded):
		return "The answer got lost in the storm, try again shortly."
	default:
		return "The message couldn't cross the waves, try again shortly."
	}
}
