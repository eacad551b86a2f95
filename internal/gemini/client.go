// Package gemini implements the generation backend over the Gemini API
// using the google.golang.org/genai SDK.
//
// It translates the orchestrator's conversation model to genai contents,
// advertises the registered tool schemas as function declarations with
// auto function-calling mode, and flattens streamed responses into ordered
// chat fragments. Function calls are surfaced as fragments, never executed
// here: execution belongs to the orchestrator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/calico0/parley/internal/chat"
)

// Config contains the parameters for the Gemini client.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the model identifier, e.g. "gemini-2.0-flash-lite".
	Model string

	Logger *slog.Logger
}

// Client is a chat.Backend backed by the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New creates a Gemini-backed generation client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	logger.Debug("gemini client initialized", "model", cfg.Model)

	return &Client{
		client: client,
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Stream issues one streaming generation request and yields fragments in
// arrival order. The sequence is finite and not restartable; a fresh call
// is required to regenerate output.
func (c *Client) Stream(ctx context.Context, req chat.Request) iter.Seq2[chat.Fragment, error] {
	contents := contentsFromTurns(req.Turns)
	config := generateConfig(req)

	return func(yield func(chat.Fragment, error) bool) {
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				yield(chat.Fragment{}, fmt.Errorf("generate content stream: %w", err))
				return
			}
			for _, frag := range fragments(resp) {
				if !yield(frag, nil) {
					return
				}
			}
		}
	}
}
