package config

// DatabaseConfig defines configuration for the SQLite store.
type DatabaseConfig struct {
	// Path is the database file location. The value ":memory:" opens an
	// in-process database, used by tests.
	Path                 string `json:"path,omitempty" yaml:"path,omitempty"`
	BusyTimeoutMs        int    `json:"busy_timeout_ms,omitempty" yaml:"busy_timeout_ms,omitempty" validate:"omitempty,gte=0"`
	OperationTimeoutSecs int    `json:"operation_timeout_secs,omitempty" yaml:"operation_timeout_secs,omitempty" validate:"omitempty,gt=0"`
}

// NewDefaultDatabaseConfig creates default database configuration
func NewDefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path:                 DefaultDatabasePath,
		BusyTimeoutMs:        DefaultBusyTimeoutMs,
		OperationTimeoutSecs: DefaultOperationTimeoutSecs,
	}
}
