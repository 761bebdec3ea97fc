package main

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brandlens/geo-audit/internal/model"
)

var (
	auditProperty string
	auditSurfaces []string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Schedule and process an audit batch for a property",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		surfaces := make([]model.Surface, 0, len(auditSurfaces))
		for _, s := range auditSurfaces {
			surfaces = append(surfaces, model.Surface(s))
		}
		if len(surfaces) == 0 {
			surfaces = e.Registry.Surfaces()
		}

		batchID, runs, err := e.Runner.ScheduleBatch(ctx, auditProperty, surfaces)
		if err != nil {
			return eris.Wrap(err, "audit: schedule batch")
		}

		zap.L().Info("batch scheduled",
			zap.String("batch_id", batchID),
			zap.String("property_id", auditProperty),
			zap.Int("runs", len(runs)),
		)

		var completed, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		for _, run := range runs {
			run := run
			g.Go(func() error {
				summary, err := e.Runner.ProcessRun(gctx, run.ID)
				if err != nil {
					failed.Add(1)
					zap.L().Error("run failed",
						zap.String("run_id", run.ID),
						zap.String("surface", string(run.Surface)),
						zap.Error(err),
					)
					return nil
				}
				completed.Add(1)
				zap.L().Info("run completed",
					zap.String("run_id", run.ID),
					zap.String("surface", string(run.Surface)),
					zap.Int("processed", summary.Processed),
					zap.Int("errors", len(summary.Errors)),
					zap.Float64("score", summary.Score),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("batch finished",
			zap.String("batch_id", batchID),
			zap.Int64("completed", completed.Load()),
			zap.Int64("failed", failed.Load()),
		)

		if failed.Load() > 0 {
			return nil
		}

		analysis, err := e.Analyzer.Analyze(ctx, batchID)
		if err != nil {
			zap.L().Warn("cross-model analysis unavailable", zap.Error(err))
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditProperty, "property", "", "property ID to audit")
	auditCmd.Flags().StringSliceVar(&auditSurfaces, "surfaces", nil, "surfaces to audit (default all registered)")
	auditCmd.MarkFlagRequired("property")
	rootCmd.AddCommand(auditCmd)
}
