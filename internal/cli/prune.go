package cli

import (
	"fmt"
	"io"

	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/retention"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/pkg/config"
	"claw-companion/backend/pkg/logger"

	"github.com/spf13/cobra"
)

// NewPruneCommand runs one retention sweep directly against the database
// the daemon is configured with.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var (
		keep   int
		policy string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Trim the local timeline and old integrity reports",
		Long: `Run one retention sweep against the configured database.

Keep defaults to SYNC_KEEP_COUNT and policy to SYNC_PRUNE_POLICY.

Policies:
  recency       keep the newest records
  keep-pending  keep unread replies and undelivered messages first

Examples:
  clawctl prune
  clawctl prune --keep 200 --policy keep-pending
  clawctl prune --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Sync.KeepCount
			}
			if !cmd.Flags().Changed("policy") {
				policy = cfg.Sync.PrunePolicy
			}
			if keep < 0 {
				return fmt.Errorf("invalid --keep value: %d", keep)
			}

			db, err := config.NewDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := models.Migrate(db); err != nil {
				return err
			}

			store := timeline.NewGormStore(db)
			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			if dryRun {
				drop := total - int64(keep)
				if drop < 0 {
					drop = 0
				}
				out := map[string]int64{"records": total, "wouldDelete": drop}
				return emit(cmd, opts, out, func(w io.Writer) {
					printf(w, "%s records, %s would be pruned\n", count(total), count(drop))
				})
			}

			sweep, err := retention.NewScheduler(store, integrity.NewReportStore(db), retention.Config{
				Cron:         cfg.Retention.Cron,
				KeepCount:    keep,
				Policy:       timeline.ParsePrunePolicy(policy),
				ReportMaxAge: cfg.Retention.ReportMaxAge,
			}, logger.Nop())
			if err != nil {
				return err
			}
			res, err := sweep.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd, opts, res, func(w io.Writer) {
				printf(w, "pruned %s of %s records and %s integrity reports\n",
					count(res.Messages), count(total), count(res.Reports))
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 500, "records to keep")
	cmd.Flags().StringVar(&policy, "policy", "recency", "prune policy (recency|keep-pending)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report how many records would go")
	return cmd
}
