package testutil

import "testing"

func TestParseSSEEvents(t *testing.T) {
	body := "event: chunk\ndata: {\"text\":\"Arrr\"}\n\n" +
		"event: chunk\ndata: {\"text\":\"matey\"}\n\n" +
		"event: done\ndata: {}\n\n"

	events := ParseSSEEvents(t, body)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	chunks := FindAllEvents(events, "chunk")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunk events, want 2", len(chunks))
	}
	if chunks[0].Data != `{"text":"Arrr"}` {
		t.Errorf("chunk 1 data = %q", chunks[0].Data)
	}

	done := FindEvent(events, "done")
	if done == nil {
		t.Fatal("done event not found")
	}
	if FindEvent(events, "error") != nil {
		t.Error("unexpected error event")
	}
}

func TestParseSSEEvents_MultilineDataAndComments(t *testing.T) {
	body := ": keepalive\nevent: chunk\ndata: line one\ndata: line two\n\n"

	events := ParseSSEEvents(t, body)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != "line one\nline two" {
		t.Errorf("data = %q, want joined lines", events[0].Data)
	}
}

func TestParseSSEEvents_DefaultMessageType(t *testing.T) {
	events := ParseSSEEvents(t, "data: hi\n\n")
	if len(events) != 1 || events[0].Type != "message" {
		t.Fatalf("events = %+v, want one message event", events)
	}
}
