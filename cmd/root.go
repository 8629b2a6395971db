// Package cmd provides the root command and CLI setup for gremlins.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mikelane/gremlins/internal/adapter"
	"github.com/mikelane/gremlins/internal/cache"
	"github.com/mikelane/gremlins/internal/controller"
	"github.com/mikelane/gremlins/internal/domain"
	"github.com/mikelane/gremlins/internal/model"
	"github.com/mikelane/gremlins/internal/operator"
	"github.com/mikelane/gremlins/internal/pool"
)

var sourceFS adapter.SourceFS
var goSource adapter.GoSource
var registry *operator.Registry
var ui controller.UI

// operatorsFlag restricts mutation to the named operators; empty means
// all of them.
var operatorsFlag []string

// noCacheFlag disables incremental caching when set.
var noCacheFlag bool

// cacheDirFlag holds the result cache location.
var cacheDirFlag string

var verboseFlag bool
var logFileFlag string
var logLevelFlag string

// noTUIFlag forces the plain text UI even on a terminal.
var noTUIFlag bool

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	sourceFS = adapter.NewLocalSourceFS()
	goSource = adapter.NewLocalGoSource()
	registry = operator.Builtin()
}

const pathArgHelp = `The optional path argument selects the target project (default: the
current directory). Any file or directory inside the target module
works; the project root is found by walking up to go.mod.`

const rootLongDescription = `Gremlins is a mutation testing tool for Go. It plants small faults
(gremlins) in a copy of your code and checks that the test suite
notices. Gremlins that survive point at behavior no test pins down.

` + pathArgHelp

const runLongDescription = `Run mutation testing against the target project.

Each gremlin is tested with the tests that cover its line, cheapest
first, and results are cached so unchanged code is not re-tested on
the next run.

` + pathArgHelp

const listLongDescription = `List the gremlins that would be generated, without running any tests.

` + pathArgHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gremlins",
		Short: "Go mutation testing tool",
		Long:  rootLongDescription,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag)
			if noTUIFlag {
				ui = controller.NewSimpleUI(cmd)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringSliceVarP(
		&operatorsFlag, operatorsFlagName, "m",
		viper.GetStringSlice(operatorsConfigKey),
		"mutation operators to apply (default: all)",
	)
	bindFlagToConfig(cmd.PersistentFlags().Lookup(operatorsFlagName), operatorsConfigKey)

	cmd.PersistentFlags().BoolVar(&noCacheFlag, noCacheFlagName, viper.GetBool(noCacheFlagName), "disable cached incremental runs (re-test everything)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(noCacheFlagName), noCacheFlagName)

	cmd.PersistentFlags().StringVar(&cacheDirFlag, cacheDirFlagName, viper.GetString(cacheDirConfigKey), "directory holding the result cache")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(cacheDirFlagName), cacheDirConfigKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file path (default: "+defaultLogFilename+")")

	cmd.PersistentFlags().StringVar(&logLevelFlag, logLevelFlagName, "", "log level: debug, info, warn or error")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logLevelFlagName), logLevelKey)

	cmd.PersistentFlags().BoolVar(&noTUIFlag, noTUIFlagName, false, "plain text output even on a terminal")
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// targetPath resolves the single optional path argument.
func targetPath(args []string) string {
	if len(args) == 0 {
		return "."
	}

	return args[0]
}

// resolveWorkers turns the configured parallelism into a worker count,
// zero meaning one worker per CPU.
func resolveWorkers(configured int) int {
	if configured < 1 {
		return runtime.NumCPU()
	}

	return configured
}

// workerPoolFactory builds pools whose workers are this same binary
// running the hidden worker command.
func workerPoolFactory(cfg model.PoolConfig) (domain.Pool, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own binary for workers: %w", err)
	}

	p, err := pool.New(cfg, pool.WithCommand([]string{exe, "worker"}))
	if err != nil {
		return nil, err
	}

	return p, nil
}

// openCache opens the incremental result cache, or returns nil when
// caching is disabled.
func openCache() (*cache.Cache, error) {
	if viper.GetBool(noCacheFlagName) {
		return nil, nil
	}

	store, err := cache.OpenBadgerStore(viper.GetString(cacheDirConfigKey))
	if err != nil {
		return nil, fmt.Errorf("failed to open result cache: %w", err)
	}

	return cache.New(store), nil
}

// buildEngine assembles the engine around the shared adapters. The
// cache may be nil. Tests swap this out for a fake.
var buildEngine = func(c *cache.Cache) domain.Engine {
	return domain.NewEngine(domain.EngineDeps{
		FS:        sourceFS,
		GoSource:  goSource,
		Coverage:  adapter.NewGoCoverageSource(""),
		TestCmd:   adapter.NewTestCommand(viper.GetStringSlice(testArgsConfigKey)...),
		Installer: adapter.NewModSwitchInstaller(),
		Probe:     adapter.NewGoBuildProbe(),
		Registry:  registry,
		Cache:     c,
		UI:        ui,
		NewPool:   workerPoolFactory,
	})
}
