package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/calico0/parley/internal/log"
	"github.com/calico0/parley/internal/persona"
	"github.com/calico0/parley/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// script is one backend response: fragments in order, then an optional
// terminal error.
type script struct {
	frags []Fragment
	err   error
}

// fakeBackend replays scripted streams and records every request it sees.
type fakeBackend struct {
	scripts []script
	reqs    []Request
}

func (b *fakeBackend) Stream(ctx context.Context, req Request) iter.Seq2[Fragment, error] {
	b.reqs = append(b.reqs, req)
	var s script
	if len(b.scripts) > 0 {
		s = b.scripts[0]
		b.scripts = b.scripts[1:]
	}
	return func(yield func(Fragment, error) bool) {
		for _, f := range s.frags {
			if ctx.Err() != nil {
				yield(Fragment{}, ctx.Err())
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if s.err != nil {
			yield(Fragment{}, s.err)
		}
	}
}

// event is one observed transport side effect.
type event struct {
	kind string // "chunk" | "complete"
	text string
}

type fakeTransport struct {
	events []event
}

func (t *fakeTransport) SendChunk(_ context.Context, text string) error {
	t.events = append(t.events, event{kind: "chunk", text: text})
	return nil
}

func (t *fakeTransport) SendComplete(context.Context) error {
	t.events = append(t.events, event{kind: "complete"})
	return nil
}

func (t *fakeTransport) chunks() []string {
	var out []string
	for _, e := range t.events {
		if e.kind == "chunk" {
			out = append(out, e.text)
		}
	}
	return out
}

func (t *fakeTransport) completions() int {
	n := 0
	for _, e := range t.events {
		if e.kind == "complete" {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	records []Record
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, rec Record) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

// countingInvoker wraps a registry to observe invocations.
type countingInvoker struct {
	reg   *tools.Registry
	calls []ToolCall
}

func (c *countingInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	c.calls = append(c.calls, ToolCall{Name: name, Args: args})
	return c.reg.Invoke(ctx, name, args)
}

type harness struct {
	orc       *Orchestrator
	backend   *fakeBackend
	transport *fakeTransport
	recorder  *fakeRecorder
	invoker   *countingInvoker
}

func newHarness(t *testing.T, scripts ...script) *harness {
	t.Helper()

	reg := tools.NewRegistry(tools.Weather())
	h := &harness{
		backend:   &fakeBackend{scripts: scripts},
		transport: &fakeTransport{},
		recorder:  &fakeRecorder{},
		invoker:   &countingInvoker{reg: reg},
	}

	orc, err := New(Config{
		Backend:   h.backend,
		Tools:     h.invoker,
		Personas:  persona.NewStore(),
		Recorder:  h.recorder,
		Logger:    log.NewNop(),
		ToolDecls: reg.Declarations(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orc = orc
	return h
}

func textFrag(s string) Fragment { return Fragment{Text: s} }

func callFrag(name string, args map[string]any) Fragment {
	return Fragment{Call: &ToolCall{Name: name, Args: args}}
}

func TestHandleTurn_TextOnly(t *testing.T) {
	h := newHarness(t, script{frags: []Fragment{textFrag("Arrr, "), textFrag("ahoy matey!")}})

	err := h.orc.HandleTurn(context.Background(), 7, "hello friend", "friendly", h.transport)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	wantChunks := []string{"Arrr, ", "ahoy matey!"}
	gotChunks := h.transport.chunks()
	if len(gotChunks) != len(wantChunks) {
		t.Fatalf("got %d chunks, want %d", len(gotChunks), len(wantChunks))
	}
	for i := range wantChunks {
		if gotChunks[i] != wantChunks[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, gotChunks[i], wantChunks[i])
		}
	}

	// The completion signal is exactly one and always the last event.
	if h.transport.completions() != 1 {
		t.Fatalf("got %d completion events, want 1", h.transport.completions())
	}
	if last := h.transport.events[len(h.transport.events)-1]; last.kind != "complete" {
		t.Errorf("last event = %q, want complete", last.kind)
	}

	// Persisted text equals the concatenation of emitted chunks.
	if len(h.recorder.records) != 1 {
		t.Fatalf("got %d records, want 1", len(h.recorder.records))
	}
	rec := h.recorder.records[0]
	if rec.TranslatedText != strings.Join(gotChunks, "") {
		t.Errorf("TranslatedText = %q, want concatenation %q", rec.TranslatedText, strings.Join(gotChunks, ""))
	}
	if rec.OriginalText != "hello friend" {
		t.Errorf("OriginalText = %q", rec.OriginalText)
	}
	if rec.UserID != 7 {
		t.Errorf("UserID = %d, want 7", rec.UserID)
	}
	if rec.SpecialReport {
		t.Error("SpecialReport = true, want false")
	}
}

func TestHandleTurn_WeatherToolCall(t *testing.T) {
	h := newHarness(t,
		script{frags: []Fragment{callFrag(tools.WeatherToolName, map[string]any{"location": "Nassau"})}},
		script{frags: []Fragment{textFrag("Arrrgh, "), textFrag("'tis sunny, 75°F, ye happy now?")}},
	)

	err := h.orc.HandleTurn(context.Background(), 3, "What's the weather in Nassau?", "grumpy", h.transport)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	// Tool invoked exactly once with the backend-supplied arguments.
	if len(h.invoker.calls) != 1 {
		t.Fatalf("tool invoked %d times, want 1", len(h.invoker.calls))
	}
	if got := h.invoker.calls[0].Args["location"]; got != "Nassau" {
		t.Errorf("tool location = %v, want Nassau", got)
	}

	if len(h.recorder.records) != 1 {
		t.Fatalf("got %d records, want 1", len(h.recorder.records))
	}
	rec := h.recorder.records[0]
	if want := "Arrrgh, 'tis sunny, 75°F, ye happy now?"; rec.TranslatedText != want {
		t.Errorf("TranslatedText = %q, want %q", rec.TranslatedText, want)
	}
	if !rec.SpecialReport {
		t.Error("SpecialReport = false, want true")
	}

	// Two generation requests: original turn, then the continuation.
	if len(h.backend.reqs) != 2 {
		t.Fatalf("backend saw %d requests, want 2", len(h.backend.reqs))
	}
	cont := h.backend.reqs[1]
	if cont.System != h.backend.reqs[0].System {
		t.Error("continuation request changed the system instruction")
	}
	if len(cont.Turns) != 3 {
		t.Fatalf("continuation has %d turns, want 3", len(cont.Turns))
	}
	if cont.Turns[1].Role != RoleModel || cont.Turns[1].Parts[0].Call == nil {
		t.Error("continuation turn 2 should be the model tool call")
	}
	res := cont.Turns[2].Parts[0].Result
	if res == nil || !strings.Contains(res.Output, "Nassau") {
		t.Errorf("continuation turn 3 should carry the tool result, got %+v", cont.Turns[2])
	}
}

func TestHandleTurn_PreToolChunksPrecedePostToolChunks(t *testing.T) {
	h := newHarness(t,
		script{frags: []Fragment{
			textFrag("Hold fast, "),
			callFrag(tools.WeatherToolName, map[string]any{"location": "Tortuga"}),
			// Anything after the first tool call must not be consumed.
			textFrag("NEVER SEEN"),
		}},
		script{frags: []Fragment{textFrag("the skies be clear.")}},
	)

	err := h.orc.HandleTurn(context.Background(), 1, "weather at tortuga?", "", h.transport)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	got := strings.Join(h.transport.chunks(), "")
	want := "Hold fast, the skies be clear."
	if got != want {
		t.Errorf("streamed text = %q, want %q", got, want)
	}
	if h.recorder.records[0].TranslatedText != want {
		t.Errorf("TranslatedText = %q, want %q", h.recorder.records[0].TranslatedText, want)
	}
}

func TestHandleTurn_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n "} {
		h := newHarness(t)
		err := h.orc.HandleTurn(context.Background(), 1, input, "friendly", h.transport)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("HandleTurn(%q) error = %v, want ErrEmptyInput", input, err)
		}
		if len(h.transport.events) != 0 {
			t.Errorf("HandleTurn(%q) emitted %d events, want 0", input, len(h.transport.events))
		}
		if len(h.backend.reqs) != 0 {
			t.Errorf("HandleTurn(%q) issued a generation request", input)
		}
		if len(h.recorder.records) != 0 {
			t.Errorf("HandleTurn(%q) persisted a record", input)
		}
	}
}

func TestHandleTurn_AuthRequired(t *testing.T) {
	for _, userID := range []int64{0, -4} {
		h := newHarness(t)
		err := h.orc.HandleTurn(context.Background(), userID, "ahoy", "friendly", h.transport)
		if !errors.Is(err, ErrAuthRequired) {
			t.Errorf("HandleTurn(userID=%d) error = %v, want ErrAuthRequired", userID, err)
		}
		if len(h.transport.events) != 0 {
			t.Errorf("HandleTurn(userID=%d) had transport side effects", userID)
		}
	}
}

func TestHandleTurn_UnknownTool(t *testing.T) {
	h := newHarness(t,
		script{frags: []Fragment{callFrag("summon_kraken", map[string]any{"depth": "deep"})}},
	)

	err := h.orc.HandleTurn(context.Background(), 1, "release the beast", "grumpy", h.transport)
	if !errors.Is(err, tools.ErrNotFound) {
		t.Fatalf("HandleTurn() error = %v, want tools.ErrNotFound", err)
	}

	chunks := h.transport.chunks()
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1 error chunk", len(chunks))
	}
	grumpy := persona.NewStore().Resolve(persona.Grumpy)
	if !strings.HasPrefix(chunks[0], grumpy.ErrorPrefix) {
		t.Errorf("error chunk %q should carry the persona prefix %q", chunks[0], grumpy.ErrorPrefix)
	}
	if h.transport.completions() != 1 {
		t.Errorf("got %d completions, want 1", h.transport.completions())
	}
	if last := h.transport.events[len(h.transport.events)-1]; last.kind != "complete" {
		t.Errorf("last event = %q, want complete", last.kind)
	}
	if len(h.recorder.records) != 0 {
		t.Error("failed turn must not persist a record")
	}
}

func TestHandleTurn_BackendErrorFirstStream(t *testing.T) {
	h := newHarness(t, script{err: errors.New("rate limited")})

	err := h.orc.HandleTurn(context.Background(), 1, "ahoy", "friendly", h.transport)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("HandleTurn() error = %v, want ErrBackend", err)
	}
	if len(h.transport.chunks()) != 1 || h.transport.completions() != 1 {
		t.Errorf("want one error chunk and one completion, got events %+v", h.transport.events)
	}
	if len(h.recorder.records) != 0 {
		t.Error("failed turn must not persist a record")
	}
}

func TestHandleTurn_BackendErrorSecondStream(t *testing.T) {
	h := newHarness(t,
		script{frags: []Fragment{
			textFrag("One moment... "),
			callFrag(tools.WeatherToolName, map[string]any{"location": "Nassau"}),
		}},
		script{err: errors.New("stream reset")},
	)

	err := h.orc.HandleTurn(context.Background(), 1, "weather?", "friendly", h.transport)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("HandleTurn() error = %v, want ErrBackend", err)
	}

	// Pre-call chunk, then one error chunk, then completion.
	chunks := h.transport.chunks()
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (pre-call + error), events %+v", len(chunks), h.transport.events)
	}
	if h.transport.completions() != 1 {
		t.Errorf("got %d completions, want 1", h.transport.completions())
	}
	if len(h.recorder.records) != 0 {
		t.Error("failed turn must not persist a record")
	}
}

// blockingBackend never yields until the stream context expires.
type blockingBackend struct {
	reqs []Request
}

func (b *blockingBackend) Stream(ctx context.Context, req Request) iter.Seq2[Fragment, error] {
	b.reqs = append(b.reqs, req)
	return func(yield func(Fragment, error) bool) {
		<-ctx.Done()
		yield(Fragment{}, ctx.Err())
	}
}

// blockingInvoker never returns until the tool context expires.
type blockingInvoker struct{}

func (blockingInvoker) Invoke(ctx context.Context, _ string, _ map[string]any) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestHandleTurn_StreamTimeout(t *testing.T) {
	backend := &blockingBackend{}
	transport := &fakeTransport{}
	recorder := &fakeRecorder{}
	reg := tools.NewRegistry(tools.Weather())

	orc, err := New(Config{
		Backend:       backend,
		Tools:         &countingInvoker{reg: reg},
		Personas:      persona.NewStore(),
		Recorder:      recorder,
		Logger:        log.NewNop(),
		StreamTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = orc.HandleTurn(context.Background(), 1, "ahoy", "friendly", transport)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("HandleTurn() error = %v, want ErrBackend", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("HandleTurn() error = %v, want wrapped DeadlineExceeded", err)
	}

	// One in-character error chunk carrying the timeout message, then the
	// completion signal. Nothing persisted.
	chunks := transport.chunks()
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1 error chunk, events %+v", len(chunks), transport.events)
	}
	friendly := persona.NewStore().Resolve(persona.Friendly)
	if !strings.HasPrefix(chunks[0], friendly.ErrorPrefix) {
		t.Errorf("error chunk %q should carry the persona prefix %q", chunks[0], friendly.ErrorPrefix)
	}
	if !strings.Contains(chunks[0], "storm") {
		t.Errorf("error chunk %q should use the timeout message", chunks[0])
	}
	if transport.completions() != 1 {
		t.Errorf("got %d completions, want 1", transport.completions())
	}
	if last := transport.events[len(transport.events)-1]; last.kind != "complete" {
		t.Errorf("last event = %q, want complete", last.kind)
	}
	if len(recorder.records) != 0 {
		t.Error("timed-out turn must not persist a record")
	}
}

func TestHandleTurn_ToolTimeout(t *testing.T) {
	backend := &fakeBackend{scripts: []script{
		{frags: []Fragment{callFrag(tools.WeatherToolName, map[string]any{"location": "Nassau"})}},
	}}
	transport := &fakeTransport{}
	recorder := &fakeRecorder{}

	orc, err := New(Config{
		Backend:     backend,
		Tools:       blockingInvoker{},
		Personas:    persona.NewStore(),
		Recorder:    recorder,
		Logger:      log.NewNop(),
		ToolTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = orc.HandleTurn(context.Background(), 1, "weather in Nassau?", "grumpy", transport)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("HandleTurn() error = %v, want DeadlineExceeded", err)
	}

	// No continuation request once the tool times out.
	if len(backend.reqs) != 1 {
		t.Errorf("backend saw %d requests, want 1", len(backend.reqs))
	}

	chunks := transport.chunks()
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1 error chunk, events %+v", len(chunks), transport.events)
	}
	grumpy := persona.NewStore().Resolve(persona.Grumpy)
	if !strings.HasPrefix(chunks[0], grumpy.ErrorPrefix) {
		t.Errorf("error chunk %q should carry the persona prefix %q", chunks[0], grumpy.ErrorPrefix)
	}
	if !strings.Contains(chunks[0], "storm") {
		t.Errorf("error chunk %q should use the timeout message", chunks[0])
	}
	if transport.completions() != 1 {
		t.Errorf("got %d completions, want 1", transport.completions())
	}
	if len(recorder.records) != 0 {
		t.Error("timed-out turn must not persist a record")
	}
}

func TestHandleTurn_NestedToolCallSkipped(t *testing.T) {
	h := newHarness(t,
		script{frags: []Fragment{callFrag(tools.WeatherToolName, map[string]any{"location": "Nassau"})}},
		script{frags: []Fragment{
			textFrag("Sunny. "),
			callFrag(tools.WeatherToolName, map[string]any{"location": "Tortuga"}),
			textFrag("Warm too."),
		}},
	)

	err := h.orc.HandleTurn(context.Background(), 1, "weather?", "friendly", h.transport)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	// Single-hop: only the first stream's call executes.
	if len(h.invoker.calls) != 1 {
		t.Fatalf("tool invoked %d times, want 1", len(h.invoker.calls))
	}
	if got := strings.Join(h.transport.chunks(), ""); got != "Sunny. Warm too." {
		t.Errorf("streamed text = %q", got)
	}
}

func TestHandleTurn_PersistenceFailureDoesNotDisturbStream(t *testing.T) {
	h := newHarness(t, script{frags: []Fragment{textFrag("Aye.")}})
	h.recorder.err = errors.New("connection refused")

	err := h.orc.HandleTurn(context.Background(), 1, "yes", "friendly", h.transport)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v, persistence failure must not surface to the turn", err)
	}

	// Exactly the normal event sequence, no extra error chunk.
	if len(h.transport.chunks()) != 1 || h.transport.completions() != 1 {
		t.Errorf("stream disturbed after persistence failure: %+v", h.transport.events)
	}
}

func TestHandleTurn_SpecialReportFlag(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"What's the WEATHER like?", true},
		{"wEaThEr in nassau", true},
		{"stormy seas ahead", false},
		{"how fare ye", false},
	}

	for _, tc := range cases {
		h := newHarness(t, script{frags: []Fragment{textFrag("Arrr.")}})
		if err := h.orc.HandleTurn(context.Background(), 1, tc.input, "friendly", h.transport); err != nil {
			t.Fatalf("HandleTurn(%q) error = %v", tc.input, err)
		}
		if got := h.recorder.records[0].SpecialReport; got != tc.want {
			t.Errorf("SpecialReport for %q = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestIsSpecialReport(t *testing.T) {
	cases := map[string]bool{
		"What's the WEATHER like?": true,
		"wEaThEr in nassau":        true,
		"weathervane repairs":      true,
		"whether or not":           false,
		"stormy seas ahead":        false,
	}
	for in, want := range cases {
		if got := IsSpecialReport(in); got != want {
			t.Errorf("IsSpecialReport(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandleTurn_CanceledContext(t *testing.T) {
	h := newHarness(t, script{frags: []Fragment{textFrag("never sent")}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orc.HandleTurn(ctx, 1, "ahoy", "friendly", h.transport)
	if err == nil {
		t.Fatal("HandleTurn() with canceled context should fail")
	}
	// Client is gone: no error chunk, no completion, nothing persisted.
	if len(h.transport.events) != 0 {
		t.Errorf("canceled turn emitted events: %+v", h.transport.events)
	}
	if len(h.recorder.records) != 0 {
		t.Error("canceled turn must not persist a record")
	}
}

func TestHandleTurn_AdvertisesToolDeclarations(t *testing.T) {
	h := newHarness(t, script{frags: []Fragment{textFrag("Aye.")}})

	if err := h.orc.HandleTurn(context.Background(), 1, "hello", "friendly", h.transport); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(h.backend.reqs) != 1 {
		t.Fatalf("backend saw %d requests, want 1", len(h.backend.reqs))
	}
	req := h.backend.reqs[0]
	if len(req.Tools) == 0 || req.Tools[0].Name != tools.WeatherToolName {
		t.Errorf("request should advertise the weather tool, got %+v", req.Tools)
	}
	if req.System == "" {
		t.Error("request should carry the persona system instruction")
	}
}

func TestNew_Validation(t *testing.T) {
	base := func() Config {
		reg := tools.NewRegistry(tools.Weather())
		return Config{
			Backend:  &fakeBackend{},
			Tools:    &countingInvoker{reg: reg},
			Personas: persona.NewStore(),
			Recorder: &fakeRecorder{},
			Logger:   log.NewNop(),
		}
	}

	mutations := map[string]func(*Config){
		"backend":  func(c *Config) { c.Backend = nil },
		"tools":    func(c *Config) { c.Tools = nil },
		"personas": func(c *Config) { c.Personas = nil },
		"recorder": func(c *Config) { c.Recorder = nil },
		"logger":   func(c *Config) { c.Logger = nil },
	}

	for name, mutate := range mutations {
		cfg := base()
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("New() without %s should fail", name)
		}
	}

	if _, err := New(base()); err != nil {
		t.Errorf("New() with full config failed: %v", err)
	}
}

func ExampleFragment_IsToolCall() {
	f := Fragment{Call: &ToolCall{Name: tools.WeatherToolName}}
	fmt.Println(f.IsToolCall())
	// Output: true
}
