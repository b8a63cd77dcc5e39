package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/config"
	"github.com/susu3304/anklavbot/internal/logging"
)

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List claimed rooms that were never cleaned up",
	Long: `A claimed room normally disappears right after its results are archived.
Rooms listed here were claimed but their archive is missing, or the archive
was written and the room could not be deleted. They need operator attention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		st, closeStore, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		return listStuck(ctx, st, cmd, logger)
	},
}

func listStuck(ctx context.Context, st store, cmd *cobra.Command, logger *zap.Logger) error {
	rooms, err := st.ListClaimed(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no stuck rooms")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tMEMBERS\tCREATED\tARCHIVED")
	for _, g := range rooms {
		archived, err := st.ArchiveExists(ctx, g.ID)
		if err != nil {
			logger.Warn("archive lookup failed", zap.String("group", g.ID), zap.Error(err))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", g.ID, len(g.Members), g.CreatedAt.Format(time.RFC3339), archived)
	}
	return w.Flush()
}
