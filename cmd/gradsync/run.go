package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	"github.com/sfu-fas/coursys-sub000/internal/service"
	"github.com/sfu-fas/coursys-sub000/pkg/logger"
)

var errRunFailed = errors.New("import finished with failures")

func runCmd() *cobra.Command {
	var (
		emplids      []string
		reportPath   string
		refreshCache bool
		noProgress   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one import and exit",
		Long: `Run reconciles every graduate student of the configured units once.
Each person is handled in their own transaction; a person that fails is rolled
back and reported while the rest continue. The exit status is 1 when any
person failed or the run aborted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if reportPath != "" {
				if _, err := service.FormatForPath(reportPath); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logger.LevelForVerbosity(cfg.Import.Verbosity)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if refreshCache {
				if err := a.cache.Invalidate(ctx); err != nil {
					return fmt.Errorf("refresh source cache: %w", err)
				}
			}

			opts := service.RunOptions{
				DryRun:    cfg.Import.DryRun,
				Verbosity: cfg.Import.Verbosity,
				EmplIDs:   emplids,
			}
			var bar *progressTracker
			if !noProgress && cfg.Import.Verbosity <= 1 {
				bar = newProgressTracker(cmd.ErrOrStderr())
				opts.Progress = bar.Update
			}

			report, runErr := a.sync.Run(ctx, opts)
			bar.Finish()
			if report != nil {
				printSummary(cmd.OutOrStdout(), report)
				if reportPath != "" {
					if err := a.reports.WriteFile(report, reportPath); err != nil {
						a.logger.Error("write run report", zap.String("path", reportPath), zap.Error(err))
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", reportPath)
				}
				if a.store != nil {
					if _, err := a.reports.Save(report); err != nil {
						a.logger.Warn("store run report", zap.Error(err))
					}
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Failed() {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "reconcile without committing any change")
	cmd.Flags().Int("verbosity", 1, "0 errors only, 1 summary, 2 every record added, 3 every dropped happening")
	cmd.Flags().StringArrayVar(&emplids, "emplid", nil, "limit the run to this student number (repeatable)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the run report to a .csv or .pdf file")
	cmd.Flags().BoolVar(&refreshCache, "refresh-cache", false, "drop cached source rows before fetching")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "hide the progress bar")

	_ = v.BindPFlag("IMPORT_DRY_RUN", cmd.Flags().Lookup("dry-run"))
	_ = v.BindPFlag("IMPORT_VERBOSITY", cmd.Flags().Lookup("verbosity"))

	return cmd
}

// progressTracker draws a per-person bar once the number of persons is known.
type progressTracker struct {
	mu  sync.Mutex
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressTracker(w io.Writer) *progressTracker {
	return &progressTracker{w: w}
}

func (p *progressTracker) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Reconciling students"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.w)
			}),
		)
	}
	_ = p.bar.Set(done)
}

func (p *progressTracker) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
}

func printSummary(w io.Writer, report *models.RunReport) {
	mode := "applied"
	if report.DryRun {
		mode = "dry run, nothing committed"
	}
	fmt.Fprintf(w, "run %s (%s)\n", report.RunID, mode)
	fmt.Fprintf(w, "  persons:   %d (%d succeeded, %d failed, %d skipped)\n",
		report.Persons, report.Succeeded, len(report.Failures), report.Skipped)
	fmt.Fprintf(w, "  careers:   %d created, %d matched, %d abandoned\n",
		report.CareersCreated, report.CareersMatched, report.CareersAbandoned)
	fmt.Fprintf(w, "  dropped:   %d happenings\n", report.Dropped)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  failed %s [%s]: %s\n", f.EmplID, f.Code, f.Error)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  warning %s\n", warning)
	}
	if report.Aborted != "" {
		fmt.Fprintf(w, "  aborted: %s\n", report.Aborted)
	}
}
