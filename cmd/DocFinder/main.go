package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/DocFinder/internal/lockfile"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DocFinder state data
	DefaultStateDir = "/var/lib/docfinder"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "docfinder.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := acquireStateLock(flags)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	slog.Info("Bootstrapping DocFinder with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr, "redis_set", *flags.redisAddr != "", "elasticsearch", *flags.elasticsearchURL)
	err = run(ctx, config, flags)
	stop()
	lock.Release()
	if err != nil {
		slog.Error("DocFinder failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DocFinder exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel              string
	ConfigFile            string
	StateDir              string
	DatabaseURL           string
	OpenAIKey             string
	OpenAIBaseURL         string
	ChatModel             string
	EmbeddingModel        string
	GenAIDebug            bool
	ElasticsearchURL      string
	ElasticsearchUsername string
	ElasticsearchPassword string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	APIAddr               string
	AppKey                string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioFromNumber      string
	TwilioWebhookURL      string
	TracingExporter       string
}

// Flags holds command line flag values
type Flags struct {
	configFile       *string
	stateDir         *string
	dbDSN            *string
	openaiKey        *string
	openaiBaseURL    *string
	elasticsearchURL *string
	redisAddr        *string
	apiAddr          *string
	tracingExporter  *string
	genaiDebug       *bool
}

// initializeLogger sets up structured logging at the given level (debug by default)
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:              os.Getenv("LOG_LEVEL"),
		ConfigFile:            os.Getenv("CONFIG_FILE"),
		StateDir:              os.Getenv("DOCFINDER_STATE_DIR"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		OpenAIKey:             os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		ChatModel:             os.Getenv("CHAT_MODEL"),
		EmbeddingModel:        os.Getenv("EMBEDDING_MODEL"),
		GenAIDebug:            util.ParseBoolEnv("GENAI_DEBUG", false),
		ElasticsearchURL:      os.Getenv("ELASTICSEARCH_URL"),
		ElasticsearchUsername: os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticsearchPassword: os.Getenv("ELASTICSEARCH_PASSWORD"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               util.ParseIntEnv("REDIS_DB", 0),
		APIAddr:               os.Getenv("API_ADDR"),
		AppKey:                os.Getenv("APP_KEY"),
		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:      os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:      os.Getenv("TWILIO_WEBHOOK_URL"),
		TracingExporter:       os.Getenv("TRACING_EXPORTER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DOCFINDER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("DOCFINDER_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.ElasticsearchURL == "" {
		config.ElasticsearchURL = "http://localhost:9200"
	}

	slog.Debug("environment variables loaded",
		"DOCFINDER_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL", config.OpenAIBaseURL,
		"ELASTICSEARCH_URL", config.ElasticsearchURL,
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr,
		"APP_KEY_SET", config.AppKey != "",
		"TWILIO_SET", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"TRACING_EXPORTER", config.TracingExporter,
		"CONFIG_FILE", config.ConfigFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		configFile:       flag.String("config", config.ConfigFile, "path to the YAML tunables file (overrides $CONFIG_FILE)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for DocFinder data (overrides $DOCFINDER_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "patient database DSN (overrides $DATABASE_URL)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBaseURL:    flag.String("openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)"),
		elasticsearchURL: flag.String("elasticsearch-url", config.ElasticsearchURL, "comma-separated Elasticsearch addresses (overrides $ELASTICSEARCH_URL)"),
		redisAddr:        flag.String("redis-addr", config.RedisAddr, "Redis address; empty uses in-process caches (overrides $REDIS_ADDR)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		tracingExporter:  flag.String("tracing", config.TracingExporter, "trace exporter: none or stdout (overrides $TRACING_EXPORTER)"),
		genaiDebug:       flag.Bool("genai-debug", config.GenAIDebug, "write completion requests to the state directory (overrides $GENAI_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"configFile", *flags.configFile,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"elasticsearchURL", *flags.elasticsearchURL,
		"redisAddr", *flags.redisAddr,
		"apiAddr", *flags.apiAddr,
		"tracing", *flags.tracingExporter,
		"genaiDebug", *flags.genaiDebug)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	if *flags.genaiDebug {
		if err := os.MkdirAll(filepath.Join(*flags.stateDir, "debug"), 0755); err != nil {
			return err
		}
	}
	return nil
}

// acquireStateLock locks the directory of a SQLite database so a second
// instance cannot open the same file. Other backends need no lock.
func acquireStateLock(flags Flags) (*lockfile.Lock, error) {
	dsn := strings.TrimSpace(*flags.dbDSN)
	if dsn == "" || store.DetectDSNType(dsn) != "sqlite3" {
		return nil, nil
	}
	return lockfile.Acquire(filepath.Dir(dsn))
}
