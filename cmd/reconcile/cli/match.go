package cli

import (
	"fmt"
	"strconv"

	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/spf13/cobra"
)

func NewMatchCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "match [file-id]",
		Short: "Reconcile transactions against the gateway",
		Long:  "Runs gateway matching for one file, or for every processed file whose matching is not yet complete. Each transaction is attempted at most the configured number of times.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			runner, err := svc.runner(false, true)
			if err != nil {
				return err
			}

			var files []models.ReportFile
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid file id %q", args[0])
				}
				file, err := svc.catalog.GetFileByID(ctx, uint(id))
				if err != nil {
					return err
				}
				files = []models.ReportFile{*file}
			} else {
				files, err = svc.catalog.ListFilesByStatus(ctx, models.FileStatusProcessed)
				if err != nil {
					return err
				}
			}

			matched, unmatched, failed := 0, 0, 0
			for i := range files {
				res, err := runner.MatchFile(ctx, files[i].ID, force)
				if err != nil {
					svc.log.Error("Matching for %s failed: %v", files[i].Filename, err)
					failed++
					continue
				}
				matched += res.Matched
				unmatched += res.Failed
			}

			fmt.Printf("files: %d, matched: %d, unmatched: %d, errors: %d\n",
				len(files), matched, unmatched, failed)

			if failed > 0 {
				return fmt.Errorf("matching failed for %d of %d file(s)", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-attempt already matched transactions")

	return cmd
}
