package cmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "gremlins"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	operatorsFlagName    = "operators"
	noCacheFlagName      = "no-cache"
	cacheDirFlagName     = "cache-dir"
	verboseFlagName      = "verbose"
	logFileFlagName      = "log-file"
	logLevelFlagName     = "log-level"
	noTUIFlagName        = "no-tui"
	keepTreeFlagName     = "keep-tree"
	runParallelFlagName  = "parallel"
	timeoutFlagName      = "timeout"
	batchSizeFlagName    = "batch-size"
	strategyFlagName     = "strategy"
	startMethodFlagName  = "start-method"
	noWarmupFlagName     = "no-warmup"
	noCoverageFlagName   = "no-coverage"
	noPrioritizeFlagName = "no-prioritize"
	testArgsFlagName     = "test-args"
	thresholdFlagName    = "threshold"

	operatorsConfigKey   = "operators"
	cacheDirConfigKey    = "cache.dir"
	runParallelConfigKey = "run.parallel"
	timeoutConfigKey     = "run.timeout"
	batchSizeConfigKey   = "run.batch_size"
	strategyConfigKey    = "run.strategy"
	startMethodConfigKey = "run.start_method"
	testArgsConfigKey    = "run.test_args"
	thresholdConfigKey   = "run.threshold"

	defaultCacheDir = ".gremlins-cache"
	defaultNoCache  = false

	// defaultRunParallel of zero means one worker per CPU.
	defaultRunParallel = 0
	defaultTimeout     = time.Minute
	defaultBatchSize   = 5
	defaultStrategy    = "weighted"
	defaultStartMethod = "persistent"
	// defaultThreshold of zero means a low score never fails the run.
	defaultThreshold = 0.0

	envPrefix = "GREMLINS"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".gremlins.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(operatorsConfigKey, []string{})
	viper.SetDefault(noCacheFlagName, defaultNoCache)
	viper.SetDefault(cacheDirConfigKey, defaultCacheDir)
	viper.SetDefault(runParallelConfigKey, defaultRunParallel)
	viper.SetDefault(timeoutConfigKey, defaultTimeout)
	viper.SetDefault(batchSizeConfigKey, defaultBatchSize)
	viper.SetDefault(strategyConfigKey, defaultStrategy)
	viper.SetDefault(startMethodConfigKey, defaultStartMethod)
	viper.SetDefault(testArgsConfigKey, []string{})
	viper.SetDefault(thresholdConfigKey, defaultThreshold)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger. Logs go to a
// rotated file, never to the terminal the UI draws on.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}
