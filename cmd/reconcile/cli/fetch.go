package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewFetchCommand() *cobra.Command {
	var fromFlag, toFlag string
	var force bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download report files for a date range",
		Long:  "Lists the remote reports directory, matches the configured filename patterns for every date in the range and downloads new files into the local catalog as pending work.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			from, to, err := parseRange(fromFlag, toFlag)
			if err != nil {
				return err
			}

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			client, err := svc.openRemote()
			if err != nil {
				return err
			}

			locator := newLocator(svc, client)
			descs, err := locator.Find(ctx, svc.cfg.Remote.ReportDir, from, to)
			if err != nil {
				return err
			}

			downloader := newDownloader(svc, client)
			downloaded, skipped, failed := 0, 0, 0
			for _, desc := range descs {
				_, wasSkipped, err := downloader.Download(ctx, desc, force)
				switch {
				case err != nil:
					svc.log.Error("Download of %s failed: %v", desc.Name, err)
					failed++
				case wasSkipped:
					skipped++
				default:
					downloaded++
				}
			}

			fmt.Printf("found: %d, downloaded: %d, skipped: %d, failed: %d\n",
				len(descs), downloaded, skipped, failed)

			if failed > 0 {
				return fmt.Errorf("%d of %d download(s) failed", failed, len(descs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "start date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&toFlag, "to", "", "end date (YYYY-MM-DD, default --from)")
	cmd.Flags().BoolVar(&force, "force", false, "re-download files that are already processed")

	return cmd
}

func parseRange(fromFlag, toFlag string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now, now

	var err error
	if fromFlag != "" {
		if from, err = parseDate(fromFlag); err != nil {
			return from, to, err
		}
		to = from
	}
	if toFlag != "" {
		if to, err = parseDate(toFlag); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
