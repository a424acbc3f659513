package config

import (
	"log"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Server      ServerConfig
	Store       StoreConfig
	Supabase    SupabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Refresh     RefreshConfig
	Ingest      IngestConfig
	Google      GoogleConfig
	Scheduler   SchedulerConfig
}

type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"9090"`
	SpecDir string `envconfig:"API_SPEC_DIR" default:"./api"`
}

type StoreConfig struct {
	// supabase or sqlite
	Driver     string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"STORE_SQLITE_PATH" default:"./bookings.db"`
}

type SupabaseConfig struct {
	URL        string `envconfig:"SUPABASE_URL"`
	ServiceKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
	Table      string `envconfig:"SUPABASE_BOOKINGS_TABLE" default:"bookings"`
}

type CacheConfig struct {
	Path string        `envconfig:"CACHE_DB_PATH" default:"./cache.db"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"30m"`
}

type RedisConfig struct {
	// Empty address disables run locks.
	Addr     string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"10m"`
}

type RefreshConfig struct {
	BaseURL           string        `envconfig:"REFRESH_BASE_URL" default:"https://www.trip.com"`
	FallbackHotelID   string        `envconfig:"REFRESH_FALLBACK_HOTEL_ID" default:"1396330"`
	Adults            int           `envconfig:"REFRESH_ADULTS" default:"2"`
	Currency          string        `envconfig:"REFRESH_CURRENCY" default:"EUR"`
	BatchSize         int           `envconfig:"REFRESH_BATCH_SIZE" default:"5"`
	BatchDelay        time.Duration `envconfig:"REFRESH_BATCH_DELAY" default:"5s"`
	FetchTimeout      time.Duration `envconfig:"REFRESH_FETCH_TIMEOUT" default:"8s"`
	Fetcher           string        `envconfig:"REFRESH_FETCHER" default:"http"`
	RequestsPerSecond float64       `envconfig:"REFRESH_REQUESTS_PER_SECOND" default:"2"`
	SynthesizePrices  bool          `envconfig:"REFRESH_SYNTHESIZE_PRICES" default:"false"`
}

type IngestConfig struct {
	MaxMessages    int           `envconfig:"INGEST_MAX_MESSAGES" default:"20"`
	DefaultFrom    string        `envconfig:"INGEST_DEFAULT_FROM" default:"noreply@booking.com"`
	DefaultSubject string        `envconfig:"INGEST_DEFAULT_SUBJECT" default:"Booking confirmation"`
	MaxAttempts    int           `envconfig:"INGEST_MAX_ATTEMPTS" default:"3"`
	CallTimeout    time.Duration `envconfig:"INGEST_CALL_TIMEOUT" default:"8s"`
	// Fixed offset, in hours, for pinning check-in/check-out times.
	UTCOffsetHours int `envconfig:"INGEST_UTC_OFFSET_HOURS" default:"2"`
}

type GoogleConfig struct {
	ClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	// Overrides the Gmail API endpoint, mostly for local testing.
	MailEndpoint string `envconfig:"GMAIL_ENDPOINT"`
}

type SchedulerConfig struct {
	RefreshURL string `envconfig:"SCHEDULER_REFRESH_URL" default:"http://localhost:9090/price-refresh"`
	Secret     string `envconfig:"SCHEDULER_SECRET" default:"scheduled"`
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase store")
		}
	default:
		return errors.Newf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Refresh.Fetcher != "http" && c.Refresh.Fetcher != "browser" {
		return errors.Newf("unknown REFRESH_FETCHER %q", c.Refresh.Fetcher)
	}
	if c.Refresh.SynthesizePrices && c.IsProduction() {
		return errors.New("REFRESH_SYNTHESIZE_PRICES must not be set in production")
	}
	if c.Refresh.BatchSize <= 0 {
		return errors.New("REFRESH_BATCH_SIZE must be positive")
	}
	if c.Ingest.MaxMessages <= 0 {
		return errors.New("INGEST_MAX_MESSAGES must be positive")
	}
	return nil
}

// RefreshSettings is the refresh config the orchestrator runs with. Price
// synthesis is always off in production.
func (c Config) RefreshSettings() RefreshConfig {
	rc := c.Refresh
	rc.SynthesizePrices = rc.SynthesizePrices && !c.IsProduction()
	return rc
}

func NewTestConfig() Config {
	return Config{
		Environment: "test",
		Server:      ServerConfig{Port: "8889", SpecDir: "./api"},
		Store:       StoreConfig{Driver: "sqlite", SQLitePath: ":memory:"},
		Cache:       CacheConfig{Path: ":memory:", TTL: time.Minute},
		Refresh: RefreshConfig{
			BaseURL:         "https://www.trip.com",
			FallbackHotelID: "1396330",
			Adults:          2,
			Currency:        "EUR",
			BatchSize:       5,
			FetchTimeout:    2 * time.Second,
			Fetcher:         "http",
		},
		Ingest: IngestConfig{
			MaxMessages:    20,
			DefaultFrom:    "noreply@booking.com",
			DefaultSubject: "Booking confirmation",
			MaxAttempts:    3,
			CallTimeout:    2 * time.Second,
			UTCOffsetHours: 2,
		},
		Scheduler: SchedulerConfig{Secret: "scheduled"},
	}
}
