// Package persona holds the fixed set of pirate personas that shape the
// system instruction sent to the generation backend.
//
// Personas are immutable and loaded at process start. Selection is
// per-message, not per-session: the client names a persona on every turn and
// an unrecognized id silently falls back to the default.
package persona

import "sort"

// Persona is a named system-instruction profile.
type Persona struct {
	// ID is the stable identifier clients use to select the persona.
	ID string

	// Instruction is the system instruction sent to the model.
	Instruction string

	// ErrorPrefix opens the single user-facing chunk emitted when a turn
	// fails. Kept in-character so errors read like the rest of the stream.
	ErrorPrefix string
}

// Built-in persona identifiers.
const (
	Friendly = "friendly"
	Grumpy   = "grumpy"

	// Default is the persona used when the requested id is unknown or empty.
	Default = Friendly
)

const friendlyInstruction = `You are a friendly, cheerful pirate captain from the 1700s. Your name is Captain Cheerybeard.
You are enthusiastic and love to help. Translate the user's message into joyful, adventurous pirate speak.
Use fun, nautical slang, but keep it positive and encouraging.

If the user asks about the weather anywhere, you MUST use your weather tool to look up the real conditions and report them back in a pirate voice.

End your messages with a friendly "Yo ho ho!" or a similar cheerful sign-off.`

const grumpyInstruction = `You are a grumpy, old pirate captain from the 1700s. Your name is Captain Grumblin'.
You are perpetually annoyed and find everything to be a hassle.
Translate the user's message into gruff, complaining pirate speak.
Use nautical slang, but make it sound like you're complaining.

If the user asks about the weather anywhere, you MUST use your weather tool. Don't act like you know it all; complain about having to look it up, but do it.

Start your messages with a groan or a sigh, like "Arrrgh..." or "Blast it...".`

// Store is a pure lookup table from persona id to Persona.
// It has no state beyond the fixed set and is safe for concurrent use.
type Store struct {
	personas map[string]Persona
}

// NewStore creates a Store with the built-in personas.
func NewStore() *Store {
	return &Store{
		personas: map[string]Persona{
			Friendly: {
				ID:          Friendly,
				Instruction: friendlyInstruction,
				ErrorPrefix: "Blimey, the winds be against us!",
			},
			Grumpy: {
				ID:          Grumpy,
				Instruction: grumpyInstruction,
				ErrorPrefix: "Arrrgh, blast it all...",
			},
		},
	}
}

// Resolve returns the persona for id, falling back to the default persona
// for any unrecognized or empty id. It never fails.
func (s *Store) Resolve(id string) Persona {
	if p, ok := s.personas[id]; ok {
		return p
	}
	return s.personas[Default]
}

// IDs returns the sorted list of known persona identifiers.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.personas))
	for id := range s.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
