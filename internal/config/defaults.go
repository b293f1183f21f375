package config

import "github.com/spf13/viper"

func GetDefault() BaseConfig {
	return BaseConfig{
		ShutdownTimeout: "10s",

		Log: LogConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Database: DatabaseConfig{
			Path: "reconcile.db",
		},

		Remote: RemoteConfig{
			Host:      "",
			Port:      22,
			Username:  "",
			ReportDir: "/reports",
			Timeout:   "30s",
			Patterns: []string{
				"TRANSACTION_REPORT_%s.csv",
				"TRANSACTION_REPORT_%s_1.csv",
				"TRANSREPORT_%s.csv",
				"transaction_report_%s.csv",
			},
		},

		Local: LocalConfig{
			BaseDir: "reports",
		},

		Matching: MatchingConfig{
			MaxAttempts: 3,
			GatewayURL:  "",
			Timeout:     "15s",
		},

		Recovery: RecoveryConfig{
			StaleAfter: "2h",
		},

		Pipeline: PipelineConfig{
			Workers:     1,
			Pause:       "2s",
			FileTimeout: "30m",
			Interval:    "15m",
		},
	}
}

func setDefaults() {
	defaults := GetDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("database.path", defaults.Database.Path)

	viper.SetDefault("remote.host", defaults.Remote.Host)
	viper.SetDefault("remote.port", defaults.Remote.Port)
	viper.SetDefault("remote.username", defaults.Remote.Username)
	viper.SetDefault("remote.report_dir", defaults.Remote.ReportDir)
	viper.SetDefault("remote.timeout", defaults.Remote.Timeout)
	viper.SetDefault("remote.patterns", defaults.Remote.Patterns)

	viper.SetDefault("local.base_dir", defaults.Local.BaseDir)

	viper.SetDefault("matching.max_attempts", defaults.Matching.MaxAttempts)
	viper.SetDefault("matching.gateway_url", defaults.Matching.GatewayURL)
	viper.SetDefault("matching.timeout", defaults.Matching.Timeout)

	viper.SetDefault("recovery.stale_after", defaults.Recovery.StaleAfter)

	viper.SetDefault("pipeline.workers", defaults.Pipeline.Workers)
	viper.SetDefault("pipeline.pause", defaults.Pipeline.Pause)
	viper.SetDefault("pipeline.file_timeout", defaults.Pipeline.FileTimeout)
	viper.SetDefault("pipeline.interval", defaults.Pipeline.Interval)
}
