package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calico0/parley/internal/app"
)

var translatePersona string

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate a message into pirate speak",
	Long: `Translate a message into pirate speak, printing the translation as it
streams. Reads the message from the arguments, or from stdin when no
arguments are given.`,
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringVarP(&translatePersona, "persona", "p", "", "persona to translate with (friendly, grumpy)")
	rootCmd.AddCommand(translateCmd)
}

// writerTransport streams chunks straight to the terminal.
type writerTransport struct {
	w io.Writer
}

func (t writerTransport) SendChunk(_ context.Context, text string) error {
	_, err := io.WriteString(t.w, text)
	return err
}

func (t writerTransport) SendComplete(context.Context) error {
	_, err := io.WriteString(t.w, "\n")
	return err
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("nothing to translate: pass text as arguments or on stdin")
	}

	personaID := translatePersona
	if personaID == "" {
		personaID = cfg.DefaultPersona
	}

	ctx := cmd.Context()
	a, err := app.NewLocal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	transport := writerTransport{w: cmd.OutOrStdout()}
	return a.Orchestrator.HandleTurn(ctx, a.LocalUserID, text, personaID, transport)
}
