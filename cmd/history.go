package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calico0/parley/internal/app"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past translations for the local user",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "maximum number of translations to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("no database configured: set PARLEY_POSTGRES_HOST to record history")
	}

	ctx := cmd.Context()
	a, err := app.NewLocal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	records, err := a.History.ListByUser(ctx, a.LocalUserID, historyLimit)
	if err != nil {
		return fmt.Errorf("listing translations: %w", err)
	}
	if len(records) == 0 {
		cmd.Println("No translations yet.")
		return nil
	}

	for _, rec := range records {
		marker := " "
		if rec.SpecialReport {
			marker = "*"
		}
		cmd.Printf("%s [%s] %s\n    %s\n",
			marker,
			rec.CreatedAt.Format("2006-01-02 15:04"),
			rec.OriginalText,
			rec.TranslatedText,
		)
	}
	return nil
}
