package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trinetra-eo/cogcatalog/internal/config"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/retention"
)

func newPurgeCmd() *cobra.Command {
	var (
		age    retention.Age
		before string
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cogs acquired before a cutoff",
		Long: `Delete cogs acquired strictly before a cutoff, given either as an age
(--days, --months, --years) or as an instant (--before).

Examples:
  # Remove cogs older than one year and six months
  cogcatalogd purge --years 1 --months 6

  # Remove cogs acquired before 2024-01-01T00:00:00Z
  cogcatalogd purge --before 2024-01-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			setupLogging(cfg)

			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			pub := event.NewPublisher(cfg.NATSURL)
			defer pub.Close()

			purger := retention.NewPurger(store, pub)
			var res retention.Result
			if before != "" {
				cutoff, err := query.ParseInstant(before)
				if err != nil {
					return err
				}
				res, err = purger.PurgeBefore(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
			} else {
				res, err = purger.PurgeOlderThan(cmd.Context(), age, time.Now())
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&age.Days, "days", 0, "Age in days")
	cmd.Flags().IntVar(&age.Months, "months", 0, "Age in months")
	cmd.Flags().IntVar(&age.Years, "years", 0, "Age in years")
	cmd.Flags().StringVar(&before, "before", "", "Cutoff as epoch millis, RFC 3339 or YYYY-MM-DD")
	cmd.MarkFlagsMutuallyExclusive("before", "days")
	cmd.MarkFlagsMutuallyExclusive("before", "months")
	cmd.MarkFlagsMutuallyExclusive("before", "years")
	return cmd
}
