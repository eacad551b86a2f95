// Package chat contains the streaming turn orchestrator, the core of parley.
//
// A turn is one complete exchange: user text in, streamed pirate-speak out,
// one persisted translation record. The orchestrator owns the turn end to
// end. It forwards text deltas from the generation backend to the transport
// as they arrive, and when the backend requests a tool call mid-stream it
// pauses forwarding, executes the tool, builds a continuation conversation,
// and resumes streaming from a second request.
//
// Tool use is single-hop: the first tool call of the first stream is
// honored, tool calls appearing in the continuation stream are skipped.
// This is a deliberate constraint, not an oversight.
//
// Collaborators (Backend, ToolInvoker, Recorder, Transport) are consumer-
// defined interfaces so tests can substitute fakes.
package chat
