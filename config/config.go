// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Services ServicesConfig
	R2       R2Config
	Workers  WorkerConfig
	Economy  Economy
}

type ServerConfig struct {
	Port           string
	GatewayToken   string
	AllowedOrigins string
	// mutating requests per second allowed for a single user
	UserRateLimit int
	UserRateBurst int
	LogLevel      string
	LogFormat     string // text | json
}

type DatabaseConfig struct {
	Driver string // postgres | memory
	URL    string
}

type ServicesConfig struct {
	AuthServiceURL  string
	StatsServiceURL string
	ServiceToken    string
	RedisURL        string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether enough R2 settings are present to archive ledgers.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

type WorkerConfig struct {
	OutboxInterval     time.Duration
	OutboxBatchSize    int
	StatsSyncInterval  time.Duration
	ExpirySweepEvery   time.Duration
	ReconcileEvery     time.Duration
	LedgerArchiveAtUTC string // HH:MM
}

// Load reads .env (when present), the process environment and the economy
// tuning file named by ECONOMY_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "5300"),
			GatewayToken:   getEnv("GATEWAY_SERVICE_TOKEN", ""),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
			UserRateLimit:  getEnvInt("USER_RATE_LIMIT", 5),
			UserRateBurst:  getEnvInt("USER_RATE_BURST", 10),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("STORE_DRIVER", "postgres"),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Services: ServicesConfig{
			AuthServiceURL:  getEnv("AUTH_SERVICE_URL", ""),
			StatsServiceURL: getEnv("STATS_SERVICE_URL", ""),
			ServiceToken:    getEnv("ECONOMY_SERVICE_TOKEN", ""),
			RedisURL:        getEnv("REDIS_URL", ""),
		},
		R2: R2Config{
			AccountID:       getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: getEnv("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          getEnv("R2_BUCKET_NAME", ""),
		},
		Workers: WorkerConfig{
			OutboxInterval:     getEnvDuration("OUTBOX_INTERVAL", 2*time.Second),
			OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			StatsSyncInterval:  getEnvDuration("STATS_SYNC_INTERVAL", time.Minute),
			ExpirySweepEvery:   getEnvDuration("GROUP_GIFT_SWEEP_INTERVAL", time.Minute),
			ReconcileEvery:     getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			LedgerArchiveAtUTC: getEnv("LEDGER_ARCHIVE_AT", "00:15"),
		},
	}

	econ, err := LoadEconomy(getEnv("ECONOMY_CONFIG", "economy.toml"))
	if err != nil {
		return nil, err
	}
	cfg.Economy = *econ

	if cfg.Server.GatewayToken == "" {
		return nil, errors.New("GATEWAY_SERVICE_TOKEN environment variable not set")
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	return cfg, nil
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger.
func (s ServerConfig) ConfigureLogging() {
	if strings.EqualFold(s.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		log.WithField("level", s.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// AllowedOriginsList trims the comma separated ALLOWED_ORIGINS value.
func (s ServerConfig) AllowedOriginsList() string {
	parts := strings.Split(s.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

// Economy holds the tuning values for rewards, challenges and seed data.
type Economy struct {
	GiftSenderXP           int64               `toml:"gift_sender_xp"`
	DailyChallengeCount    int                 `toml:"daily_challenge_count"`
	OutboxMaxAttempts      int                 `toml:"outbox_max_attempts"`
	NotificationsPerSecond float64             `toml:"notifications_per_second"`
	Challenges             []ChallengeTemplate `toml:"challenges"`
	Achievements           []AchievementSeed   `toml:"achievements"`
	Catalog                []CatalogSeed       `toml:"catalog"`
}

type ChallengeTemplate struct {
	Type       string `toml:"type"`
	Title      string `toml:"title"`
	Target     int64  `toml:"target"`
	XPReward   int64  `toml:"xp_reward"`
	CoinReward int64  `toml:"coin_reward"`
}

type RequirementSeed struct {
	Kind      string `toml:"kind"`
	Stat      string `toml:"stat"`
	Threshold int64  `toml:"threshold"`
}

type AchievementSeed struct {
	Code         string            `toml:"code"`
	Name         string            `toml:"name"`
	Description  string            `toml:"description"`
	Rarity       string            `toml:"rarity"`
	XPReward     int64             `toml:"xp_reward"`
	Requirements []RequirementSeed `toml:"requirements"`
}

type CatalogSeed struct {
	Slug            string `toml:"slug"`
	Name            string `toml:"name"`
	Emoji           string `toml:"emoji"`
	CoinPrice       int64  `toml:"coin_price"`
	Multiplier      int64  `toml:"multiplier"`
	GrantsInventory bool   `toml:"grants_inventory"`
}

func DefaultEconomy() Economy {
	return Economy{
		GiftSenderXP:           10,
		DailyChallengeCount:    3,
		OutboxMaxAttempts:      5,
		NotificationsPerSecond: 50,
		Challenges: []ChallengeTemplate{
			{Type: "send_gift", Title: "Send a gift", Target: 1, XPReward: 50, CoinReward: 20},
			{Type: "create_loop", Title: "Create 2 loops", Target: 2, XPReward: 100, CoinReward: 30},
			{Type: "comment", Title: "Leave 5 comments", Target: 5, XPReward: 40, CoinReward: 10},
			{Type: "like", Title: "Like 10 loops", Target: 10, XPReward: 30, CoinReward: 10},
			{Type: "contribute_group_gift", Title: "Chip in on a group gift", Target: 1, XPReward: 60, CoinReward: 15},
		},
	}
}

// LoadEconomy decodes the TOML tuning file over the defaults. A missing file
// is not an error.
func LoadEconomy(path string) (*Economy, error) {
	econ := DefaultEconomy()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.WithField("path", path).Warn("⚠️  Economy config not found, using defaults")
			return &econ, nil
		}
		return nil, fmt.Errorf("open economy config: %w", err)
	}
	defer f.Close()

	var file Economy
	if err := toml.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode economy config %s: %w", path, err)
	}
	econ.merge(file)
	if econ.DailyChallengeCount <= 0 {
		econ.DailyChallengeCount = 1
	}
	if econ.OutboxMaxAttempts <= 0 {
		econ.OutboxMaxAttempts = 5
	}
	if econ.NotificationsPerSecond <= 0 {
		econ.NotificationsPerSecond = 50
	}
	return &econ, nil
}

// merge copies every value set in the file over the defaults. Lists replace
// the default list as a whole.
func (e *Economy) merge(file Economy) {
	if file.GiftSenderXP != 0 {
		e.GiftSenderXP = file.GiftSenderXP
	}
	if file.DailyChallengeCount != 0 {
		e.DailyChallengeCount = file.DailyChallengeCount
	}
	if file.OutboxMaxAttempts != 0 {
		e.OutboxMaxAttempts = file.OutboxMaxAttempts
	}
	if file.NotificationsPerSecond != 0 {
		e.NotificationsPerSecond = file.NotificationsPerSecond
	}
	if file.Challenges != nil {
		e.Challenges = file.Challenges
	}
	if file.Achievements != nil {
		e.Achievements = file.Achievements
	}
	if file.Catalog != nil {
		e.Catalog = file.Catalog
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.WithField("key", key).Warn("invalid integer in environment, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.WithField("key", key).Warn("invalid duration in environment, using default")
	}
	return defaultValue
}
