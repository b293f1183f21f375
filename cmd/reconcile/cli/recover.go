package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Detect and repair inconsistent pipeline state",
		Long:  "Recovery operations for files left behind by crashes or interrupted batches. Every subcommand is idempotent and safe to run repeatedly.",
	}

	cmd.AddCommand(newRecoverStuckCommand())
	cmd.AddCommand(newRecoverResumeCommand())
	cmd.AddCommand(newRecoverVerifyCommand())
	cmd.AddCommand(newRecoverCleanupCommand())
	cmd.AddCommand(newRecoverRetryCommand())

	return cmd
}

func newRecoverStuckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stuck",
		Short: "Resolve files stuck in processing",
		Long:  "Finds files claimed longer ago than the staleness threshold and resets, resumes or fails each one depending on its stored progress.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			report, err := svc.recovery.RecoverStuck(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("examined: %d, reset: %d, resumed: %d, failed: %d\n",
				report.Examined, report.Reset, report.Resumed, report.Failed)
			return nil
		},
	}
}

func newRecoverResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <file-id>",
		Short: "Resume ingestion of a partially processed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			if err := svc.recovery.Resume(ctx, uint(id)); err != nil {
				return err
			}

			fmt.Printf("file %d resumed and marked processed\n", id)
			return nil
		},
	}
}

func newRecoverVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file-id>",
		Short: "Compare live CSV rows to stored transactions",
		Long:  "Reports the delta between the live file content and the stored transaction count without mutating anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			report, err := svc.recovery.Verify(ctx, uint(id))
			if err != nil {
				return err
			}

			fmt.Printf("%s: rows=%d stored=%d delta=%d complete=%t\n",
				report.Filename, report.TotalRows, report.Stored, report.Delta, report.Complete)
			return nil
		},
	}
}

func newRecoverCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphans and reset empty processed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			report, err := svc.recovery.Cleanup(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("files reset: %d, orphans removed: %d\n",
				report.FilesReset, report.OrphansRemoved)
			return nil
		},
	}
}

func newRecoverRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <file-id>",
		Short: "Reset a failed file back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			if err := svc.recovery.RetryFailed(ctx, uint(id)); err != nil {
				return err
			}

			fmt.Printf("file %d reset to pending\n", id)
			return nil
		},
	}
}
