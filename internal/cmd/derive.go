package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

func newDeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a session's analytics record",
		Long: `Recompute the session analytics record from the event log, the closed
scenario history and the simulation inputs, store it and send it through
the write pipeline.

Inputs come from --inputs (a JSON file) or, when omitted, from the inputs
stored by an earlier completion.`,
		RunE: runDerive,
	}
	cmd.Flags().String("session", "", "session id (required)")
	cmd.Flags().String("inputs", "", "simulation inputs JSON file")
	cmd.Flags().Bool("json", false, "print the record as JSON")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runDerive(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sessionID, _ := cmd.Flags().GetString("session")
	inputsPath, _ := cmd.Flags().GetString("inputs")
	jsonOut, _ := cmd.Flags().GetBool("json")

	var in tracker.Inputs
	if inputsPath != "" {
		if in, err = readInputs(inputsPath); err != nil {
			return err
		}
	} else if err := store.ReadJSON(ctx, a.store, store.InputsKey(sessionID), &in); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s has no stored inputs; pass --inputs", sessionID)
		}
		return err
	}

	sess, _, err := a.session(cmd, sessionID)
	if err != nil {
		return err
	}
	dvs, err := sess.Complete(ctx, in)
	var ide *metrics.InsufficientDataError
	if errors.As(err, &ide) {
		fmt.Fprintf(cmd.OutOrStdout(), "metrics not available yet: %v\n", ide)
		return nil
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), dvs)
	}
	printDVs(cmd.OutOrStdout(), dvs)
	return nil
}
