package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "scrape-scheduler")
	v.SetDefault("app.env", "development")

	// Job intake API
	v.SetDefault("fetch_api.base_url", "http://localhost:3000")
	v.SetDefault("fetch_api.scrape_endpoint", "/fetch")
	v.SetDefault("fetch_api.token", "")
	v.SetDefault("fetch_api.timeout", "30s")

	v.SetDefault("scheduler.schedules_dir", "./schedules")
	v.SetDefault("scheduler.timezone", "America/Lima")
	v.SetDefault("scheduler.overlap", "allow")
	v.SetDefault("scheduler.watch", false)
	v.SetDefault("scheduler.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "execution_history.db")
	v.SetDefault("history.retention", "720h") // 30 days

	v.SetDefault("run_log.enabled", false)
	v.SetDefault("run_log.dir", "./logs/runs")
	v.SetDefault("run_log.max_size", 100*1024*1024) // 100MB
	v.SetDefault("run_log.max_age", "168h")
	v.SetDefault("run_log.flush_interval", "5s")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.commands", true)
	v.SetDefault("nats.alerts_from_stream", false)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")

	v.SetDefault("metrics.interval", "30s")

	v.SetDefault("alerts", []map[string]interface{}{})
}

// BindLegacyEnvVars binds the unprefixed variable names older deployments
// use. The prefixed name wins when both are set.
func BindLegacyEnvVars(v *viper.Viper) {
	v.BindEnv("app.env", "SCRAPER_APP_ENV", "NODE_ENV")
	v.BindEnv("fetch_api.base_url", "SCRAPER_FETCH_API_BASE_URL", "FETCH_API_URL")
	v.BindEnv("fetch_api.token", "SCRAPER_FETCH_API_TOKEN", "FETCH_API_TOKEN")
	v.BindEnv("scheduler.schedules_dir", "SCRAPER_SCHEDULER_SCHEDULES_DIR", "SCHEDULES_DIR")
	v.BindEnv("scheduler.timezone", "SCRAPER_SCHEDULER_TIMEZONE", "TIMEZONE")
	v.BindEnv("logging.level", "SCRAPER_LOGGING_LEVEL", "LOG_LEVEL")
}
