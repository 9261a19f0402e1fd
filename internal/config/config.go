// Package config loads the service configuration from environment
// variables (and an optional YAML file for local development), following
// the viper/afero/mapstructure shape used across this codebase's services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Database holds the single relational database's connection settings.
type Database struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"pwd"`
	Name        string `mapstructure:"name"`
	EncryptKey  string `mapstructure:"encrypt_key"`
	SecureBase  string `mapstructure:"secure_base_tables"`
	Type        string `mapstructure:"type"`
	PoolSize    int    `mapstructure:"pool_size"`
	MaxConns    int    `mapstructure:"max_connections"`
	ConnMaxIdle time.Duration `mapstructure:"conn_max_idle"`
	ConnMaxLife time.Duration `mapstructure:"conn_max_life"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// LLM holds the provider-agnostic language-model client configuration.
type LLM struct {
	Provider             string  `mapstructure:"provider"`
	OpenAIAPIKey         string  `mapstructure:"openai_api_key"`
	OpenAIModel          string  `mapstructure:"openai_model"`
	OpenAITemperature    float64 `mapstructure:"openai_temperature"`
	OllamaBaseURL        string  `mapstructure:"ollama_base_url"`
	OllamaModel          string  `mapstructure:"ollama_model"`
	OllamaEmbeddingModel string  `mapstructure:"ollama_embedding_model"`
	CallTimeout          time.Duration `mapstructure:"call_timeout"`
}

// SQLPipeline holds the tuning knobs for the SQL agent pipeline.
type SQLPipeline struct {
	MaxTablesInSelectionPrompt int     `mapstructure:"max_tables_in_selection_prompt"`
	MaxFallbackTables          int     `mapstructure:"max_fallback_tables"`
	ConfidenceThreshold        float64 `mapstructure:"confidence_threshold"`
	CorrectionMaxAttempts      int     `mapstructure:"correction_max_attempts"`
	PreValidationEnabled       bool    `mapstructure:"pre_validation_enabled"`
	SampleRows                 int     `mapstructure:"sample_rows"`
	MaxRelationshipsInPrompt   int     `mapstructure:"max_relationships_in_prompt"`
	MaxColumnsInSchema         int     `mapstructure:"max_columns_in_schema"`
	MaxColumnsInValidation     int     `mapstructure:"max_columns_in_validation"`
	MaxColumnsInCorrection     int     `mapstructure:"max_columns_in_correction"`
	MaxSuggestedPaths          int     `mapstructure:"max_suggested_paths"`
	MaxQueryRows               int     `mapstructure:"max_query_rows"`
	MaxContextTokens           int     `mapstructure:"max_context_tokens"`
	MaxOutputTokens            int     `mapstructure:"max_output_tokens"`
	Timeout                    time.Duration `mapstructure:"timeout"`
}

// Domain holds the Domain Ontology's artifact location and feature flag.
type Domain struct {
	RegistryPath       string `mapstructure:"registry_path"`
	ExtractionEnabled  bool   `mapstructure:"extraction_enabled"`
}

// Conversation holds the Conversation Store's persistence and retry settings.
type Conversation struct {
	DBPath                  string        `mapstructure:"db_path"`
	MaxAgeHours             int           `mapstructure:"max_age_hours"`
	CleanupIntervalHours    int           `mapstructure:"cleanup_interval_hours"`
	MaxMessages             int           `mapstructure:"max_messages"`
	DBRetryAttempts         int           `mapstructure:"db_retry_attempts"`
	DBRetryDelay            time.Duration `mapstructure:"db_retry_delay"`
}

// Serv holds the HTTP service's own settings.
type Serv struct {
	AppName        string   `mapstructure:"app_name"`
	Production     bool     `mapstructure:"production"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins string   `mapstructure:"cors_allowed_origins"`
	ArtifactsDir   string   `mapstructure:"artifacts_dir"`
}

// Config is the fully decoded service configuration.
type Config struct {
	Serv         `mapstructure:",squash"`
	Database     Database     `mapstructure:"database"`
	LLM          LLM          `mapstructure:"llm"`
	SQLPipeline  SQLPipeline  `mapstructure:"sql"`
	Domain       Domain       `mapstructure:"domain"`
	Conversation Conversation `mapstructure:"conversation"`

	hostPort string
	viper    *viper.Viper
}

// HostPort returns the "host:port" string the HTTP server binds to.
func (c *Config) HostPort() string {
	if c.hostPort != "" {
		return c.hostPort
	}
	host, port := c.Host, c.Port
	if host == "" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	c.hostPort = host + ":" + port
	return c.hostPort
}

// ShouldUseJSONLogs resolves the auto/json/simple log format switch.
func (c *Config) ShouldUseJSONLogs() bool {
	switch c.LogFormat {
	case "json":
		return true
	case "simple":
		return false
	default:
		return c.Production
	}
}

// SecureBaseTables returns the configured logical table names whose
// secure_* view is discovered at startup.
func (c *Config) SecureBaseTables() []string {
	return SplitCSV(c.Database.SecureBase)
}

// CORSAllowedOrigins returns the configured CORS origin allow-list.
func (c *Config) CORSAllowedOrigins() []string {
	return SplitCSV(c.AllowedOrigins)
}

// AbsolutePath resolves p relative to ArtifactsDir unless it is already absolute.
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ArtifactsDir, p)
}

// Load reads the configuration purely from the process environment, with
// an optional YAML overlay at configFile for local development. fs is
// nil in production; tests inject an in-memory afero.Fs.
func Load(configFile string, fs afero.Fs) (*Config, error) {
	vi := newViperWithDefaults()
	if fs != nil {
		vi.SetFs(fs)
	}

	if configFile != "" {
		vi.SetConfigFile(configFile)
		if err := vi.ReadInConfig(); err != nil {
			if !isFileMissing(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	bindEnv(vi)

	c := &Config{viper: vi}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if c.ArtifactsDir == "" {
		c.ArtifactsDir = "./artifacts"
	}
	return c, nil
}

func isFileMissing(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func newViperWithDefaults() *viper.Viper {
	vi := viper.New()
	vi.SetConfigType("yaml")

	vi.SetDefault("app_name", "nlsqld")
	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")
	vi.SetDefault("host", "0.0.0.0")
	vi.SetDefault("port", "8080")
	vi.SetDefault("artifacts_dir", "./artifacts")

	vi.SetDefault("database.type", "mysql")
	vi.SetDefault("database.pool_size", 10)
	vi.SetDefault("database.max_connections", 25)
	vi.SetDefault("database.conn_max_idle", 5*time.Minute)
	vi.SetDefault("database.conn_max_life", time.Hour)
	vi.SetDefault("database.query_timeout", 10*time.Second)

	vi.SetDefault("llm.provider", "openai")
	vi.SetDefault("llm.openai_model", "gpt-4o-mini")
	vi.SetDefault("llm.openai_temperature", 0.0)
	vi.SetDefault("llm.ollama_base_url", "http://localhost:11434")
	vi.SetDefault("llm.call_timeout", 30*time.Second)

	vi.SetDefault("sql.max_tables_in_selection_prompt", 40)
	vi.SetDefault("sql.max_fallback_tables", 5)
	vi.SetDefault("sql.confidence_threshold", 0.70)
	vi.SetDefault("sql.correction_max_attempts", 3)
	vi.SetDefault("sql.pre_validation_enabled", true)
	vi.SetDefault("sql.sample_rows", 3)
	vi.SetDefault("sql.max_relationships_in_prompt", 60)
	vi.SetDefault("sql.max_columns_in_schema", 25)
	vi.SetDefault("sql.max_columns_in_validation", 25)
	vi.SetDefault("sql.max_columns_in_correction", 15)
	vi.SetDefault("sql.max_suggested_paths", 3)
	vi.SetDefault("sql.max_query_rows", 500)
	vi.SetDefault("sql.max_context_tokens", 8000)
	vi.SetDefault("sql.max_output_tokens", 1000)
	vi.SetDefault("sql.timeout", 60*time.Second)

	vi.SetDefault("domain.extraction_enabled", true)
	vi.SetDefault("domain.registry_path", "./artifacts/domain_registry.json")

	vi.SetDefault("conversation.db_path", "./data/conversations.db")
	vi.SetDefault("conversation.max_age_hours", 24)
	vi.SetDefault("conversation.cleanup_interval_hours", 1)
	vi.SetDefault("conversation.max_messages", 20)
	vi.SetDefault("conversation.db_retry_attempts", 5)
	vi.SetDefault("conversation.db_retry_delay", 100*time.Millisecond)

	return vi
}

// bindEnv wires the exact environment variable names this service
// recognizes onto the dotted viper keys above.
func bindEnv(vi *viper.Viper) {
	binds := map[string]string{
		"app_name":   "APP_NAME",
		"log_level":  "LOG_LEVEL",
		"log_format": "LOG_FORMAT",
		"production": "PRODUCTION",
		"host":       "HOST",
		"port":       "PORT",
		"cors_allowed_origins": "CORS_ALLOWED_ORIGINS",
		"artifacts_dir":        "ARTIFACTS_DIR",

		"database.host":               "DB_HOST",
		"database.port":               "DB_PORT",
		"database.user":               "DB_USER",
		"database.pwd":                "DB_PWD",
		"database.name":               "DB_NAME",
		"database.encrypt_key":        "DB_ENCRYPT_KEY",
		"database.secure_base_tables": "SECURE_BASE_TABLES",
		"database.type":               "DB_TYPE",
		"database.query_timeout":      "DB_QUERY_TIMEOUT",

		"llm.provider":                "LLM_PROVIDER",
		"llm.openai_api_key":          "OPENAI_API_KEY",
		"llm.openai_model":            "OPENAI_MODEL",
		"llm.openai_temperature":      "OPENAI_TEMPERATURE",
		"llm.ollama_base_url":         "OLLAMA_BASE_URL",
		"llm.ollama_model":            "OLLAMA_MODEL",
		"llm.ollama_embedding_model":  "OLLAMA_EMBEDDING_MODEL",
		"llm.call_timeout":            "LLM_TIMEOUT",

		"sql.max_tables_in_selection_prompt": "SQL_MAX_TABLES_IN_SELECTION_PROMPT",
		"sql.max_fallback_tables":            "SQL_MAX_FALLBACK_TABLES",
		"sql.confidence_threshold":           "SQL_CONFIDENCE_THRESHOLD",
		"sql.correction_max_attempts":        "SQL_CORRECTION_MAX_ATTEMPTS",
		"sql.pre_validation_enabled":         "SQL_PRE_VALIDATION_ENABLED",
		"sql.sample_rows":                    "SQL_SAMPLE_ROWS",
		"sql.max_relationships_in_prompt":    "SQL_MAX_RELATIONSHIPS_IN_PROMPT",
		"sql.max_columns_in_schema":          "SQL_MAX_COLUMNS_IN_SCHEMA",
		"sql.max_columns_in_validation":      "SQL_MAX_COLUMNS_IN_VALIDATION",
		"sql.max_columns_in_correction":      "SQL_MAX_COLUMNS_IN_CORRECTION",
		"sql.max_suggested_paths":            "SQL_MAX_SUGGESTED_PATHS",
		"sql.max_query_rows":                 "MAX_QUERY_ROWS",
		"sql.max_context_tokens":             "MAX_CONTEXT_TOKENS",
		"sql.max_output_tokens":              "MAX_OUTPUT_TOKENS",
		"sql.timeout":                        "PIPELINE_TIMEOUT",

		"domain.registry_path":      "DOMAIN_REGISTRY_PATH",
		"domain.extraction_enabled": "DOMAIN_EXTRACTION_ENABLED",

		"conversation.db_path":               "CONVERSATION_DB_PATH",
		"conversation.max_age_hours":         "CONVERSATION_MAX_AGE_HOURS",
		"conversation.cleanup_interval_hours": "CONVERSATION_CLEANUP_INTERVAL_HOURS",
		"conversation.max_messages":          "MAX_CONVERSATION_MESSAGES",
		"conversation.db_retry_attempts":     "CONVERSATION_DB_RETRY_ATTEMPTS",
		"conversation.db_retry_delay":        "CONVERSATION_DB_RETRY_DELAY",
	}

	for key, env := range binds {
		_ = vi.BindEnv(key, env)
	}
}

// SplitCSV parses a comma-separated environment value into a trimmed slice,
// used for SECURE_BASE_TABLES and CORS_ALLOWED_ORIGINS which arrive as
// plain strings rather than viper-native lists.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
