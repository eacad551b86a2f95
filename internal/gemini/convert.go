package gemini

import (
	"google.golang.org/genai"

	"github.com/calico0/parley/internal/chat"
	"github.com/calico0/parley/internal/tools"
)

// contentsFromTurns maps conversation turns to genai contents.
// Tool results travel as function-response parts in a user-role content,
// matching the Gemini wire protocol for function calling.
func contentsFromTurns(turns []chat.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.Call != nil:
				parts = append(parts, genai.NewPartFromFunctionCall(p.Call.Name, p.Call.Args))
			case p.Result != nil:
				parts = append(parts, genai.NewPartFromFunctionResponse(p.Result.Name, map[string]any{
					"output": p.Result.Output,
				}))
			default:
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		contents = append(contents, &genai.Content{Role: string(roleFor(turn.Role)), Parts: parts})
	}
	return contents
}

func roleFor(r chat.Role) genai.Role {
	if r == chat.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// generateConfig builds the per-request generation config: system
// instruction, function declarations, and auto function-calling mode.
func generateConfig(req chat.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations(req.Tools)}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	return cfg
}

func declarations(decls []tools.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		properties := make(map[string]*genai.Schema, len(d.Params))
		var required []string
		for _, p := range d.Params {
			properties[p.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return out
}

// fragments flattens one streamed response into ordered chat fragments.
// Text parts become text deltas; function-call parts become tool call
// requests. Other part kinds are ignored.
func fragments(resp *genai.GenerateContentResponse) []chat.Fragment {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var out []chat.Fragment
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			out = append(out, chat.Fragment{Call: &chat.ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}})
		case part.Text != "":
			out = append(out, chat.Fragment{Text: part.Text})
		}
	}
	return out
}
