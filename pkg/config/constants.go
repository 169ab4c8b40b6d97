package config

// EnvPrefix is passed to envconfig; variable names are fully spelled out in
// struct tags, so no additional prefixing happens.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names shared with tests and deploy tooling.
const (
	EnvAppEnv        = "ORDERSYNC_APP_ENV"
	EnvAppPort       = "ORDERSYNC_APP_PORT"
	EnvLogLevel      = "ORDERSYNC_LOG_LEVEL"
	EnvStreamURL     = "ORDERSYNC_STREAM_URL"
	EnvRemoteBaseURL = "ORDERSYNC_REMOTE_BASE_URL"
	EnvRemoteToken   = "ORDERSYNC_REMOTE_TOKEN"
	EnvStoreBackend  = "ORDERSYNC_STORE_BACKEND"
	EnvStorePath     = "ORDERSYNC_STORE_PATH"
	EnvRedisURL      = "ORDERSYNC_REDIS_URL"
)
