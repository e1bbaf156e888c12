package formsync

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Config consolidates settings for the sync pipeline and the query path
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Search    SearchConfig    `json:"search"`
	Sync      SyncConfig      `json:"sync"`
	Query     QueryConfig     `json:"query"`
	Watermark WatermarkConfig `json:"watermark"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tasks     TaskConfig      `json:"tasks"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// DatabaseConfig contains relational source connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
	// PoolSize bounds the connections used by sync workers.
	PoolSize int `json:"poolSize"`
	// LightPoolSize bounds the connections used for metadata and admin reads.
	LightPoolSize   int           `json:"lightPoolSize"`
	AcquireTimeout  time.Duration `json:"acquireTimeout"`
	ValidateTimeout time.Duration `json:"validateTimeout"`
	ConnectTimeout  time.Duration `json:"connectTimeout"`
	Tables          TableNames    `json:"tableNames"`
}

// TableNames names the fixed tables read by the pipeline
type TableNames struct {
	FormDefinition string `json:"formDefinition"`
	Member         string `json:"member"`
	Department     string `json:"department"`
	Position       string `json:"position"`
}

// SearchConfig contains search backend settings
type SearchConfig struct {
	Addresses   []string      `json:"addresses"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	IndexPrefix string        `json:"indexPrefix"`
	MemberIndex string        `json:"memberIndex"`
	BulkTimeout time.Duration `json:"bulkTimeout"`
	// RequestTimeout bounds index lifecycle calls and lookups.
	RequestTimeout  time.Duration        `json:"requestTimeout"`
	MaxRetries      int                  `json:"maxRetries"`
	RetryMinBackoff time.Duration        `json:"retryMinBackoff"`
	RetryMaxBackoff time.Duration        `json:"retryMaxBackoff"`
	CircuitBreaker  CircuitBreakerConfig `json:"circuitBreaker"`
}

// CircuitBreakerConfig controls fail-fast behavior toward the search backend
type CircuitBreakerConfig struct {
	Enabled      bool          `json:"enabled"`
	Threshold    int           `json:"threshold"`
	Window       time.Duration `json:"window"`
	OpenDuration time.Duration `json:"openDuration"`
}

// SyncConfig contains pipeline settings
type SyncConfig struct {
	ReadBatchSize  int `json:"readBatchSize"`
	WriteBatchSize int `json:"writeBatchSize"`
	ChildRowLimit  int `json:"childRowLimit"`
	// Workers is the number of forms synced concurrently by SyncAll.
	Workers          int               `json:"workers"`
	PrimaryKey       string            `json:"primaryKey"`
	WatermarkColumn  string            `json:"watermarkColumn"`
	MemberSuffix     string            `json:"memberSuffix"`
	ChildTablePrefix string            `json:"childTablePrefix"`
	ChildTableRegex  string            `json:"childTableRegex"`
	SyncMembersFirst bool              `json:"syncMembersFirst"`
	SystemLabels     map[string]string `json:"systemLabels"`
}

// QueryConfig contains search request settings
type QueryConfig struct {
	DefaultSize          int           `json:"defaultSize"`
	MaxSize              int           `json:"maxSize"`
	Timeout              time.Duration `json:"timeout"`
	FragmentSize         int           `json:"fragmentSize"`
	FragmentCount        int           `json:"fragmentCount"`
	SuggestionCount      int           `json:"suggestionCount"`
	MinSuggestionLength  int           `json:"minSuggestionLength"`
	FormNameCacheSize    int           `json:"formNameCacheSize"`
	DefaultFormsPageSize int           `json:"defaultFormsPageSize"`
	MaxFormsPageSize     int           `json:"maxFormsPageSize"`
	UnknownFormName      string        `json:"unknownFormName"`
	MemberLabelCacheSize int           `json:"memberLabelCacheSize"`
	MemberLabelCacheTTL  time.Duration `json:"memberLabelCacheTTL"`
}

// WatermarkConfig locates the incremental sync watermark store
type WatermarkConfig struct {
	Path string `json:"path"`
}

// SchedulerConfig controls the periodic incremental sync
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec"`
}

// TaskConfig bounds the asynchronous task registry
type TaskConfig struct {
	Capacity int `json:"capacity"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultSystemLabels labels the audit columns that are displayed but not declared in metadata.
func DefaultSystemLabels() map[string]string {
	return map[string]string{
		"start_date":        "Created At",
		"modify_date":       "Modified At",
		"start_member_id":   "Created By",
		"modify_member_id":  "Modified By",
		"approve_member_id": "Approved By",
		"ratify_member_id":  "Ratified By",
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "forms",
			Username:        "postgres",
			SSLMode:         "disable",
			PoolSize:        10,
			LightPoolSize:   1,
			AcquireTimeout:  10 * time.Second,
			ValidateTimeout: 2 * time.Second,
			ConnectTimeout:  5 * time.Second,
			Tables: TableNames{
				FormDefinition: "cap_form_definition",
				Member:         "org_member",
				Department:     "org_department",
				Position:       "org_position",
			},
		},
		Search: SearchConfig{
			Addresses:       []string{"http://localhost:9200"},
			IndexPrefix:     "form_",
			MemberIndex:     "system_members",
			BulkTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxRetries:      5,
			RetryMinBackoff: 200 * time.Millisecond,
			RetryMaxBackoff: 5 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      true,
				Threshold:    5,
				Window:       30 * time.Second,
				OpenDuration: 15 * time.Second,
			},
		},
		Sync: SyncConfig{
			ReadBatchSize:    1000,
			WriteBatchSize:   500,
			ChildRowLimit:    100,
			Workers:          3,
			PrimaryKey:       "id",
			WatermarkColumn:  "modify_date",
			MemberSuffix:     "member_id",
			ChildTablePrefix: "front_",
			ChildTableRegex:  `^formson_\d+$`,
			SyncMembersFirst: true,
			SystemLabels:     DefaultSystemLabels(),
		},
		Query: QueryConfig{
			DefaultSize:          10,
			MaxSize:              100,
			Timeout:              30 * time.Second,
			FragmentSize:         150,
			FragmentCount:        3,
			SuggestionCount:      5,
			MinSuggestionLength:  2,
			FormNameCacheSize:    1024,
			DefaultFormsPageSize: 20,
			MaxFormsPageSize:     100,
			UnknownFormName:      "Unknown form",
			MemberLabelCacheSize: 4096,
			MemberLabelCacheTTL:  10 * time.Minute,
		},
		Watermark: WatermarkConfig{
			Path: "formsync-watermarks.db",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			Spec:    "0 2 * * *",
		},
		Tasks: TaskConfig{
			Capacity: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ConnString renders the database settings as a libpq-style URL.
func (d DatabaseConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	if d.Username != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.Username, d.Password)
		} else {
			u.User = url.User(d.Username)
		}
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IndexName returns the deterministic index name of a form.
func (s SearchConfig) IndexName(formID string) string {
	return s.IndexPrefix + formID
}

// IndexPattern returns the wildcard matching every form index.
func (s SearchConfig) IndexPattern() string {
	return s.IndexPrefix + "*"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.PoolSize <= 0 {
		return &ConfigError{Field: "database.poolSize", Message: "must be greater than 0"}
	}
	if c.Database.LightPoolSize <= 0 {
		return &ConfigError{Field: "database.lightPoolSize", Message: "must be greater than 0"}
	}
	if c.Database.AcquireTimeout <= 0 {
		return &ConfigError{Field: "database.acquireTimeout", Message: "must be greater than 0"}
	}
	if c.Database.Tables.FormDefinition == "" {
		return &ConfigError{Field: "database.tableNames.formDefinition", Message: "must not be empty"}
	}

	if len(c.Search.Addresses) == 0 {
		return &ConfigError{Field: "search.addresses", Message: "at least one address is required"}
	}
	if c.Search.IndexPrefix == "" {
		return &ConfigError{Field: "search.indexPrefix", Message: "must not be empty"}
	}
	if c.Search.BulkTimeout <= 0 {
		return &ConfigError{Field: "search.bulkTimeout", Message: "must be greater than 0"}
	}

	if c.Sync.ReadBatchSize <= 0 {
		return &ConfigError{Field: "sync.readBatchSize", Message: "must be greater than 0"}
	}
	if c.Sync.WriteBatchSize <= 0 {
		return &ConfigError{Field: "sync.writeBatchSize", Message: "must be greater than 0"}
	}
	if c.Sync.WriteBatchSize > c.Sync.ReadBatchSize {
		return &ConfigError{Field: "sync.writeBatchSize", Message: "must be less than or equal to readBatchSize"}
	}
	if c.Sync.ChildRowLimit <= 0 {
		return &ConfigError{Field: "sync.childRowLimit", Message: "must be greater than 0"}
	}
	if c.Sync.Workers <= 0 {
		return &ConfigError{Field: "sync.workers", Message: "must be greater than 0"}
	}
	if c.Sync.Workers >= c.Database.PoolSize {
		return &ConfigError{Field: "sync.workers", Message: "must be less than database.poolSize"}
	}
	if c.Sync.PrimaryKey == "" {
		return &ConfigError{Field: "sync.primaryKey", Message: "must not be empty"}
	}
	if c.Sync.MemberSuffix == "" {
		return &ConfigError{Field: "sync.memberSuffix", Message: "must not be empty"}
	}
	if c.Sync.ChildTableRegex != "" {
		if _, err := regexp.Compile(c.Sync.ChildTableRegex); err != nil {
			return &ConfigError{Field: "sync.childTableRegex", Message: err.Error()}
		}
	}

	if c.Query.DefaultSize <= 0 {
		return &ConfigError{Field: "query.defaultSize", Message: "must be greater than 0"}
	}
	if c.Query.MaxSize < c.Query.DefaultSize {
		return &ConfigError{Field: "query.maxSize", Message: "must be greater than or equal to defaultSize"}
	}
	if c.Query.MaxFormsPageSize < c.Query.DefaultFormsPageSize {
		return &ConfigError{Field: "query.maxFormsPageSize", Message: "must be greater than or equal to defaultFormsPageSize"}
	}

	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return &ConfigError{Field: "scheduler.spec", Message: "required when the scheduler is enabled"}
	}
	if c.Tasks.Capacity <= 0 {
		return &ConfigError{Field: "tasks.capacity", Message: "must be greater than 0"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
