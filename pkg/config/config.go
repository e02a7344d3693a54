package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	IThink       IThinkConfig
	Vapi         VapiConfig
	Calling      CallingConfig
	Schedule     ScheduleConfig
	Cache        CacheConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SHIPVOX_APP_ENV" required:"true"`
	Port         string   `envconfig:"SHIPVOX_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SHIPVOX_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SHIPVOX_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SHIPVOX_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHIPVOX_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHIPVOX_DB_DSN"`
	Driver string `envconfig:"SHIPVOX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHIPVOX_DB_HOST"`
	LegacyPort     int    `envconfig:"SHIPVOX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHIPVOX_DB_USER"`
	LegacyPassword string `envconfig:"SHIPVOX_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHIPVOX_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHIPVOX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHIPVOX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHIPVOX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHIPVOX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHIPVOX_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHIPVOX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHIPVOX_REDIS_ADDR"`
	Password     string        `envconfig:"SHIPVOX_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHIPVOX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHIPVOX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHIPVOX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHIPVOX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHIPVOX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHIPVOX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHIPVOX_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHIPVOX_AUTO_MIGRATE" default:"false"`
}

// IThinkConfig holds credentials and endpoints for the iThink Logistics API.
type IThinkConfig struct {
	BaseURL     string        `envconfig:"SHIPVOX_ITHINK_BASE_URL" default:"https://api.ithinklogistics.com/api_v3"`
	AccessToken string        `envconfig:"SHIPVOX_ITHINK_ACCESS_TOKEN"`
	SecretKey   string        `envconfig:"SHIPVOX_ITHINK_SECRET_KEY"`
	Timeout     time.Duration `envconfig:"SHIPVOX_ITHINK_TIMEOUT" default:"60s"`
	BatchSize   int           `envconfig:"SHIPVOX_ITHINK_TRACK_BATCH_SIZE" default:"10"`
}

// VapiConfig holds credentials for the Vapi voice-AI provider.
type VapiConfig struct {
	BaseURL       string        `envconfig:"SHIPVOX_VAPI_BASE_URL" default:"https://api.vapi.ai"`
	PrivateKey    string        `envconfig:"SHIPVOX_VAPI_PRIVATE_KEY"`
	AssistantID   string        `envconfig:"SHIPVOX_VAPI_ASSISTANT_ID"`
	PhoneNumberID string        `envconfig:"SHIPVOX_VAPI_PHONE_NUMBER_ID"`
	Timeout       time.Duration `envconfig:"SHIPVOX_VAPI_TIMEOUT" default:"30s"`
}

// CallingConfig carries the retry/cooldown policy knobs. The defaults mirror
// the operational values the product launched with; all of them are tunable.
type CallingConfig struct {
	Cooldown           time.Duration `envconfig:"SHIPVOX_CALL_COOLDOWN" default:"2h"`
	MaxRetriesPerDay   int           `envconfig:"SHIPVOX_CALL_MAX_RETRIES_PER_DAY" default:"3"`
	PacingInterval     time.Duration `envconfig:"SHIPVOX_CALL_PACING_INTERVAL" default:"2s"`
	AllowedHourStart   int           `envconfig:"SHIPVOX_CALL_HOUR_START" default:"10"`
	AllowedHourEnd     int           `envconfig:"SHIPVOX_CALL_HOUR_END" default:"17"`
	DefaultCountryCode string        `envconfig:"SHIPVOX_CALL_DEFAULT_COUNTRY_CODE" default:"+91"`
	MinPhoneLength     int           `envconfig:"SHIPVOX_CALL_MIN_PHONE_LENGTH" default:"10"`
	SyncWindowDays     int           `envconfig:"SHIPVOX_CALL_SYNC_WINDOW_DAYS" default:"7"`
}

// ScheduleConfig drives the daily scheduler timetable. Times are local "HH:MM".
type ScheduleConfig struct {
	CheckInterval     time.Duration `envconfig:"SHIPVOX_SCHEDULE_CHECK_INTERVAL" default:"60s"`
	DispatchTimes     []string      `envconfig:"SHIPVOX_SCHEDULE_DISPATCH_TIMES" default:"10:30,11:00,12:00,13:00"`
	SyncLead          time.Duration `envconfig:"SHIPVOX_SCHEDULE_SYNC_LEAD" default:"10m"`
	DailyResetTime    string        `envconfig:"SHIPVOX_SCHEDULE_DAILY_RESET_TIME" default:"09:45"`
	ReconcileInterval time.Duration `envconfig:"SHIPVOX_SCHEDULE_RECONCILE_INTERVAL" default:"10m"`
}

type CacheConfig struct {
	OFDOrdersTTL   time.Duration `envconfig:"SHIPVOX_CACHE_OFD_ORDERS_TTL" default:"5m"`
	CallHistoryTTL time.Duration `envconfig:"SHIPVOX_CACHE_CALL_HISTORY_TTL" default:"2m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
