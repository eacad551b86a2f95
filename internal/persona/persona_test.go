package persona

import (
	"strings"
	"testing"
)

func TestResolve_KnownPersonas(t *testing.T) {
	store := NewStore()

	for _, id := range []string{Friendly, Grumpy} {
		p := store.Resolve(id)
		if p.ID != id {
			t.Errorf("Resolve(%q).ID = %q, want %q", id, p.ID, id)
		}
		if strings.TrimSpace(p.Instruction) == "" {
			t.Errorf("Resolve(%q) has empty instruction", id)
		}
		if strings.TrimSpace(p.ErrorPrefix) == "" {
			t.Errorf("Resolve(%q) has empty error prefix", id)
		}
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	store := NewStore()
	want := store.Resolve(Default)

	for _, id := range []string{"", "salty", "FRIENDLY", "grumpy "} {
		got := store.Resolve(id)
		if got.ID != want.ID {
			t.Errorf("Resolve(%q).ID = %q, want default %q", id, got.ID, want.ID)
		}
	}
}

func TestResolve_DistinctInstructions(t *testing.T) {
	store := NewStore()
	if store.Resolve(Friendly).Instruction == store.Resolve(Grumpy).Instruction {
		t.Error("friendly and grumpy personas share the same instruction")
	}
}

func TestIDs_Sorted(t *testing.T) {
	store := NewStore()
	ids := store.IDs()
	if len(ids) != 2 {
		t.Fatalf("IDs() returned %d ids, want 2", len(ids))
	}
	if ids[0] != Friendly || ids[1] != Grumpy {
		t.Errorf("IDs() = %v, want [friendly grumpy]", ids)
	}
}
