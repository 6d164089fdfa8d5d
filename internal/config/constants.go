package config

const (
	// Log Defaults
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultLogFile       = ""
	DefaultMaxLogSizeMB  = 100
	DefaultMaxLogBackups = 3

	// Database Defaults
	DefaultDatabasePath         = "database/resc.db"
	DefaultBusyTimeoutMs        = 5000
	DefaultOperationTimeoutSecs = 30

	// Retry Defaults for latest-flag transactions racing on the same row
	DefaultRetryMaxAttempts = 5
	DefaultRetryBaseDelayMs = 50
	DefaultRetryMaxDelayMs  = 2000

	// Pagination Defaults, mirroring the reporting surface limits
	DefaultRecordsPerPage = 100
	MaxRecordsPerPage     = 1000
)
