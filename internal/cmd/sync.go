package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/store"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Retry queued writes against the remote backend",
		Long: `Retry every unsynced fallback entry for one session, or for every session
in the store when --session is omitted. Entries that still fail stay queued.`,
		RunE: runSync,
	}
	cmd.Flags().String("session", "", "session id (default: all sessions)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	ids := []string{}
	if id, _ := cmd.Flags().GetString("session"); id != "" {
		ids = append(ids, id)
	} else if ids, err = store.SessionIDs(ctx, a.store); err != nil {
		return err
	}

	sink, err := a.inserter()
	if err != nil {
		return fmt.Errorf("connect remote: %w", err)
	}
	var errs []error
	for _, id := range ids {
		p, err := a.pipeline(id, sink)
		if err != nil {
			return err
		}
		report, err := p.SyncFallbackData(ctx)
		printSyncReport(cmd.OutOrStdout(), id, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}
