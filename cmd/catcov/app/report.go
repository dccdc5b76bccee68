package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/catalogtools/catcov/pkg/coverage"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Merge persisted worker state and print the coverage report",
	Long: `Merge the coverage state persisted by parallel test workers and print the
final report. Run it from the same working directory the workers ran in; the
exchange files are keyed by a hash of that directory.

With --expect-workers the command waits until that many worker snapshots have
been persisted before merging.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	reportCmd.Flags().String("exchange-dir", "", "Directory holding worker exchange files")
	reportCmd.Flags().Float64("desired", 0, "Desired coverage percentage [0-100]")
	reportCmd.Flags().Bool("detail", false, "Print a per-resource table after the summary")
	reportCmd.Flags().Int("expect-workers", 0, "Wait for this many worker snapshots before merging")
	reportCmd.Flags().Duration("wait-timeout", 5*time.Minute, "Maximum time to wait for workers (with --expect-workers)")

	for _, flag := range []string{"config", "exchange-dir", "desired", "detail", "expect-workers", "wait-timeout"} {
		if err := viper.BindPFlag(flag, reportCmd.Flags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
		}
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	var opts []coverage.Option
	if configPath := viper.GetString("config"); configPath != "" {
		opts = append(opts, coverage.WithConfigFile(configPath))
	}
	if dir := viper.GetString("exchange-dir"); dir != "" {
		opts = append(opts, coverage.WithExchangeDir(dir))
	}
	if cmd.Flags().Changed("desired") {
		opts = append(opts, coverage.WithDesiredCoverage(viper.GetFloat64("desired")))
	}

	// This process acts as the merge leader for the workers that already ran.
	signal := &coverage.StaticSignal{
		IsParallel: true,
		IsLeader:   true,
	}
	opts = append(opts, coverage.WithSignal(signal))

	tracker, err := coverage.New(opts...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if expected := viper.GetInt("expect-workers"); expected > 0 {
		signal.Barrier = tracker.ExpectedWorkersBarrier(expected)
		if timeout := viper.GetDuration("wait-timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	rep, check, err := tracker.Finalize(ctx)
	if err != nil {
		return err
	}

	if viper.GetBool("detail") {
		if err := rep.WriteDetail(os.Stdout); err != nil {
			return err
		}
	}

	if check.Outcome == coverage.CheckFailed {
		return fmt.Errorf("resource coverage %s%% is below the desired %.2f%%",
			rep.CoveragePercent, tracker.DesiredCoverage())
	}
	return nil
}
