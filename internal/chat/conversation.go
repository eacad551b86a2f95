package chat

import "github.com/calico0/parley/internal/tools"

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles. The generation backend understands exactly these two;
// tool results travel in a user-role turn per the wire protocol.
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolCall is a backend-issued request to invoke a registered tool before
// generation continues.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult carries the output of an executed tool back into the
// continuation conversation.
type ToolResult struct {
	Name   string
	Output string
}

// Part is a single piece of a conversation turn: exactly one of Text, Call,
// or Result is set.
type Part struct {
	Text   string
	Call   *ToolCall
	Result *ToolResult
}

// Turn is one conversation turn, composed of one or more parts.
type Turn struct {
	Role  Role
	Parts []Part
}

// Request is one streaming generation request: a system instruction, the
// advertised tool schemas, and the conversation so far.
type Request struct {
	System string
	Tools  []tools.Declaration
	Turns  []Turn
}

// Fragment is one unit of streamed backend output: a text delta, or a tool
// call request when Call is non-nil. Fragments arrive in order and a stream
// is not restartable; regenerating output requires a fresh Request.
type Fragment struct {
	Text string
	Call *ToolCall
}

// IsToolCall reports whether the fragment is a tool call request.
func (f Fragment) IsToolCall() bool { return f.Call != nil }

// UserTurn builds a single-part user text turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// Continuation builds the conversation for the second generation request:
// the original user turn, a model turn carrying the tool call, and a user
// turn carrying the tool result.
func Continuation(userText string, call *ToolCall, output string) []Turn {
	return []Turn{
		UserTurn(userText),
		{Role: RoleModel, Parts: []Part{{Call: call}}},
		{Role: RoleUser, Parts: []Part{{Result: &ToolResult{Name: call.Name, Output: output}}}},
	}
}
