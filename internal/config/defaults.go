package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/threadwise/data/db/messages.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/threadwise/data/indices/bleve"
	}
	if cfg.Threading.DefaultGapHours == 0 {
		cfg.Threading.DefaultGapHours = 2.0
	}
	if cfg.Threading.ContextWindow == nil {
		w := 5
		cfg.Threading.ContextWindow = &w
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = "/usr/local/var/threadwise/reports"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".json", ".jsonl", ".ndjson"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
