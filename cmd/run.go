package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikelane/gremlins/internal/domain"
	"github.com/mikelane/gremlins/internal/model"
)

var runParallelFlag int
var runTimeoutFlag = defaultTimeout
var runBatchSizeFlag int
var runStrategyFlag string
var runStartMethodFlag string
var runNoWarmupFlag bool
var runNoCoverageFlag bool
var runNoPrioritizeFlag bool
var runKeepTreeFlag bool
var runTestArgsFlag []string
var runThresholdFlag float64

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Run mutation testing",
		Long:  runLongDescription,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resultCache, err := openCache()
			if err != nil {
				return err
			}
			if resultCache != nil {
				defer func() {
					if err := resultCache.Close(); err != nil {
						slog.Error("Failed to close result cache", "error", err)
					}
				}()
			}

			engine := buildEngine(resultCache)
			summary, err := engine.Run(cmd.Context(), domain.RunArgs{
				Path:         targetPath(args),
				Operators:    viper.GetStringSlice(operatorsConfigKey),
				Strategy:     viper.GetString(strategyConfigKey),
				Pool:         runPoolConfig(),
				KeepTree:     runKeepTreeFlag,
				NoCoverage:   runNoCoverageFlag,
				NoPrioritize: runNoPrioritizeFlag,
			})
			if err != nil {
				return err
			}

			if threshold := viper.GetFloat64(thresholdConfigKey); threshold > 0 && summary.Score < threshold {
				return fmt.Errorf("mutation score %.2f%% is below the threshold of %.2f%%", summary.Score, threshold)
			}

			return nil
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&runParallelFlag, runParallelFlagName, "p", viper.GetInt(runParallelConfigKey), "number of parallel workers (0 = one per CPU)")
	bindFlagToConfig(cmd.Flags().Lookup(runParallelFlagName), runParallelConfigKey)

	cmd.Flags().DurationVarP(&runTimeoutFlag, timeoutFlagName, "t", viper.GetDuration(timeoutConfigKey), "per-gremlin test deadline")
	bindFlagToConfig(cmd.Flags().Lookup(timeoutFlagName), timeoutConfigKey)

	cmd.Flags().IntVarP(&runBatchSizeFlag, batchSizeFlagName, "b", viper.GetInt(batchSizeConfigKey), "gremlins dispatched to a worker at once")
	bindFlagToConfig(cmd.Flags().Lookup(batchSizeFlagName), batchSizeConfigKey)

	cmd.Flags().StringVarP(&runStrategyFlag, strategyFlagName, "s", viper.GetString(strategyConfigKey), "work distribution: weighted or round-robin")
	bindFlagToConfig(cmd.Flags().Lookup(strategyFlagName), strategyConfigKey)

	cmd.Flags().StringVar(&runStartMethodFlag, startMethodFlagName, viper.GetString(startMethodConfigKey), "worker lifecycle: persistent or spawn")
	bindFlagToConfig(cmd.Flags().Lookup(startMethodFlagName), startMethodConfigKey)

	cmd.Flags().BoolVar(&runNoWarmupFlag, noWarmupFlagName, false, "skip the worker warmup ping")

	cmd.Flags().BoolVar(&runNoCoverageFlag, noCoverageFlagName, false, "skip coverage collection and run the full suite per gremlin")

	cmd.Flags().BoolVar(&runNoPrioritizeFlag, noPrioritizeFlagName, false, "keep covering tests in name order instead of most targeted first")

	cmd.Flags().BoolVar(&runKeepTreeFlag, keepTreeFlagName, false, "keep the instrumented tree on disk for inspection")

	cmd.Flags().StringSliceVar(&runTestArgsFlag, testArgsFlagName, viper.GetStringSlice(testArgsConfigKey), "extra arguments for every go test invocation")
	bindFlagToConfig(cmd.Flags().Lookup(testArgsFlagName), testArgsConfigKey)

	cmd.Flags().Float64Var(&runThresholdFlag, thresholdFlagName, viper.GetFloat64(thresholdConfigKey), "fail the run when the score falls below this percentage")
	bindFlagToConfig(cmd.Flags().Lookup(thresholdFlagName), thresholdConfigKey)
}

// runPoolConfig assembles the pool configuration from flags and config.
func runPoolConfig() model.PoolConfig {
	cfg := model.DefaultPoolConfig()
	cfg.MaxWorkers = resolveWorkers(viper.GetInt(runParallelConfigKey))
	cfg.Timeout = viper.GetDuration(timeoutConfigKey)
	cfg.BatchSize = viper.GetInt(batchSizeConfigKey)
	cfg.StartMethod = model.StartMethod(viper.GetString(startMethodConfigKey))
	cfg.Warmup = !runNoWarmupFlag

	return cfg
}
