package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadfunnel/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

// Enabled reports whether enough SMTP settings exist to attempt delivery.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.Port > 0 && s.From != ""
}

type TrackingConfig struct {
	PixelID       string `json:"pixel_id"`
	AccessToken   string `json:"-"`
	TestEventCode string `json:"test_event_code"`
	EventIDPrefix string `json:"event_id_prefix"`
	APIVersion    string `json:"api_version"`
	Endpoint      string `json:"endpoint"`
}

type Config struct {
	Environment    string   `json:"environment"`
	ServerPort     string   `json:"server_port"`
	PublicURL      string   `json:"public_url"`
	AllowedOrigins []string `json:"allowed_origins"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis    RedisConfig    `json:"redis"`
	SMTP     SMTPConfig     `json:"smtp"`
	Tracking TrackingConfig `json:"tracking"`

	SentryDSN         string        `json:"-"`
	ProofSecret       string        `json:"-"`
	ProofTTL          time.Duration `json:"proof_ttl"`
	SalesEmail        string        `json:"sales_email"`
	CompanyName       string        `json:"company_name"`
	GeocodeToken      string        `json:"-"`
	GeocodeCountry    string        `json:"geocode_country"`
	SideEffectTimeout time.Duration `json:"side_effect_timeout"`
	StepLockTTL       time.Duration `json:"step_lock_ttl"`
	LocalStateTTL     time.Duration `json:"local_state_ttl"`
	AbandonAfter      time.Duration `json:"abandon_after"`
	AbandonSweepEvery time.Duration `json:"abandon_sweep_every"`
	SubmitRateLimit   int           `json:"submit_rate_limit"`
}

// DatabaseEnabled reports whether a database connection was configured.
// Without one the lead store runs in its fallback mode.
func (c Config) DatabaseEnabled() bool {
	return c.DBPassword != "" || c.DBHost != ""
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		DBHost:         getEnv("DB_HOST", ""),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadfunnel"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM_EMAIL", ""),
			FromName: getEnv("SMTP_FROM_NAME", "Backyard Builds"),
		},
		Tracking: TrackingConfig{
			PixelID:       getEnv("META_PIXEL_ID", ""),
			AccessToken:   getEnv("META_ACCESS_TOKEN", ""),
			TestEventCode: getEnv("META_TEST_EVENT_CODE", ""),
			EventIDPrefix: getEnv("EVENT_ID_PREFIX", "lf"),
			APIVersion:    getEnv("META_API_VERSION", "v19.0"),
			Endpoint:      getEnv("META_GRAPH_ENDPOINT", "https://graph.facebook.com"),
		},

		SentryDSN:         getEnv("SENTRY_DSN", ""),
		ProofSecret:       getEnv("PROOF_SECRET", ""),
		ProofTTL:          getEnvAsDuration("PROOF_TTL", 30*time.Minute),
		SalesEmail:        getEnv("SALES_NOTIFY_EMAIL", ""),
		CompanyName:       getEnv("COMPANY_NAME", "Backyard Builds"),
		GeocodeToken:      getEnv("GEOCODE_TOKEN", ""),
		GeocodeCountry:    getEnv("GEOCODE_COUNTRY", "ca"),
		SideEffectTimeout: getEnvAsDuration("SIDE_EFFECT_TIMEOUT", 5*time.Second),
		StepLockTTL:       getEnvAsDuration("STEP_LOCK_TTL", 30*time.Second),
		LocalStateTTL:     getEnvAsDuration("LOCAL_STATE_TTL", 30*24*time.Hour),
		AbandonAfter:      getEnvAsDuration("ABANDON_AFTER", 24*time.Hour),
		AbandonSweepEvery: getEnvAsDuration("ABANDON_SWEEP_EVERY", 15*time.Minute),
		SubmitRateLimit:   getEnvAsInt("SUBMIT_RATE_LIMIT", 5),
	}

	// Validate required configurations
	if AppConfig.ProofSecret == "" {
		if AppConfig.Environment == "production" {
			return fmt.Errorf("PROOF_SECRET is required in production")
		}
		AppConfig.ProofSecret = "development-proof-secret"
	}
	if AppConfig.Tracking.EventIDPrefix == "" || strings.Contains(AppConfig.Tracking.EventIDPrefix, "_") {
		return fmt.Errorf("EVENT_ID_PREFIX must be non-empty and must not contain '_'")
	}
	if AppConfig.Environment == "production" && AppConfig.Tracking.PixelID != "" && AppConfig.Tracking.AccessToken == "" {
		return fmt.Errorf("META_ACCESS_TOKEN is required when META_PIXEL_ID is set in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("Successfully connected to the database")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment": AppConfig.Environment,
		"port":        AppConfig.ServerPort,
		"database":    fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":       AppConfig.Redis.Enabled,
		"smtp":        AppConfig.SMTP.Enabled(),
		"pixel":       AppConfig.Tracking.PixelID != "",
		"test_mode":   AppConfig.Tracking.TestEventCode != "",
	}).Info("Loaded configuration")
}
