package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/replay"
)

// #region replay

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [fixture.json...]",
		Short: "Rebuild sessions from their event logs and check the derived metrics",
		Long: `Replay each fixture: rebuild scenario history from the events with the same
fold the live tracker uses, re-derive the analytics record and compare it
with the fixture's expectations. With --session, replay a stored session
against its own stored record instead.

Exits non-zero when any replay mismatches.`,
		RunE: runReplay,
	}
	cmd.Flags().String("session", "", "replay a stored session")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" && len(args) == 0 {
		return fmt.Errorf("pass fixture files or --session")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg.Derivation.Metrics()
	out := cmd.OutOrStdout()

	failed := 0
	check := func(name string, f *replay.Fixture) error {
		res, err := replay.Run(f, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if !reportResult(out, name, res) {
			failed++
		}
		return nil
	}

	if sessionID != "" {
		f, err := replay.FromSession(cmd.Context(), a.store, sessionID, a.logger)
		if err != nil {
			return err
		}
		if err := check("session "+sessionID, f); err != nil {
			return err
		}
	}
	for _, path := range args {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return err
		}
		if err := check(path, f); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d replay(s) mismatched", failed)
	}
	return nil
}

func reportResult(out io.Writer, name string, res replay.Result) bool {
	if res.Passed() {
		fmt.Fprintf(out, "PASS  %s  (%d scenarios, %d skipped events)\n",
			name, len(res.Rebuilt.History), res.Rebuilt.Skipped)
		return true
	}
	fmt.Fprintf(out, "FAIL  %s\n", name)
	for _, m := range res.Mismatches {
		fmt.Fprintf(out, "      %s\n", m)
	}
	return false
}

// #endregion replay

// #region export-fixture

func newExportFixtureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-fixture",
		Short: "Write a stored session out as a replay fixture",
		RunE:  runExportFixture,
	}
	cmd.Flags().String("session", "", "session id (required)")
	cmd.Flags().String("out", "", "output fixture JSON path (required)")
	cmd.Flags().String("description", "", "fixture description")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runExportFixture(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	outPath, _ := cmd.Flags().GetString("out")
	desc, _ := cmd.Flags().GetString("description")

	f, err := replay.FromSession(cmd.Context(), a.store, sessionID, a.logger)
	if err != nil {
		return err
	}
	if desc != "" {
		f.Description = desc
	}
	if err := f.Save(outPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d events, %d scenarios)\n", outPath, len(f.Events), len(f.History))
	return nil
}

// #endregion export-fixture
