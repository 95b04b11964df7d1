package config

const (
	defaultDataDir            = "~/.local/share/outpost"
	defaultDatabaseName       = "cache.db"
	defaultRequestTimeout     = 30
	defaultUserAgent          = "outpost/0.1"
	defaultProbeInterval      = 30
	defaultProbeTimeout       = 5
	defaultReconnectBaseDelay = 1
	defaultReconnectMaxDelay  = 30
	defaultMaxAttempts        = 3
	defaultTTLSeconds         = 0
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			DatabaseName: defaultDatabaseName,
		},
		Remote: Remote{
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Connectivity: Connectivity{
			ProbeInterval:      defaultProbeInterval,
			ProbeTimeout:       defaultProbeTimeout,
			ReconnectBaseDelay: defaultReconnectBaseDelay,
			ReconnectMaxDelay:  defaultReconnectMaxDelay,
		},
		Sync: Sync{
			DefaultMaxAttempts: defaultMaxAttempts,
			DefaultTTLSeconds:  defaultTTLSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
