package chat

import "testing"

func TestUserTurn(t *testing.T) {
	turn := UserTurn("ahoy")
	if turn.Role != RoleUser {
		t.Errorf("Role = %q, want %q", turn.Role, RoleUser)
	}
	if len(turn.Parts) != 1 || turn.Parts[0].Text != "ahoy" {
		t.Errorf("Parts = %+v, want single text part", turn.Parts)
	}
}

func TestContinuation_Structure(t *testing.T) {
	call := &ToolCall{Name: "get_current_weather", Args: map[string]any{"location": "Nassau"}}
	turns := Continuation("weather?", call, "75°F and sunny")

	if len(turns) != 3 {
		t.Fatalf("Continuation() returned %d turns, want 3", len(turns))
	}

	if turns[0].Role != RoleUser || turns[0].Parts[0].Text != "weather?" {
		t.Errorf("turn 1 = %+v, want original user text", turns[0])
	}

	if turns[1].Role != RoleModel {
		t.Errorf("turn 2 role = %q, want model", turns[1].Role)
	}
	if turns[1].Parts[0].Call != call {
		t.Error("turn 2 should carry the tool call fragment")
	}

	if turns[2].Role != RoleUser {
		t.Errorf("turn 3 role = %q, want user", turns[2].Role)
	}
	res := turns[2].Parts[0].Result
	if res == nil || res.Name != call.Name || res.Output != "75°F and sunny" {
		t.Errorf("turn 3 result = %+v", res)
	}
}
