// Package config loads the co-pilot's runtime configuration from a .env
// file and the process environment, in the same permissive, default-filled
// style the rest of the system uses for its own settings.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DataFeedSchema selects whether the feed gateway prefers a trade or a
// quote schema from the upstream market-data source.
type DataFeedSchema string

const (
	SchemaTrades DataFeedSchema = "trades"
	SchemaQuotes DataFeedSchema = "quotes"
)

// ScaleSpeed is one named scaleout/scalein speed preset.
type ScaleSpeed struct {
	Name     string
	Chunks   int
	Duration int // seconds
}

// Config holds every tunable named in the system's configuration surface.
type Config struct {
	DataFeedSchema DataFeedSchema
	Universe       []string // empty means "all_us_equities"

	AlertThresholdPct float64
	TierFlushSeconds  map[int]int

	BarFlushIntervalSeconds int

	ClassifierWarmupBars int

	ReplayDefaultSpeed float64

	ScaleSpeeds map[string]ScaleSpeed

	EvalHorizonsSeconds []int
	EvalMoveThreshold   float64

	FeedWSURL   string
	HTTPAddr    string
	DatabaseDSN string

	TelegramBotToken string
	TelegramChatFile string

	FirebaseCredentialsFile string
}

// Load reads .env (if present) and the process environment, falling back
// to the defaults named in the system's configuration table.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, relying on system environment variables")
	}

	cfg := &Config{
		DataFeedSchema:          schemaEnv("DATA_FEED_SCHEMA", SchemaTrades),
		Universe:                universeEnv("UNIVERSE"),
		AlertThresholdPct:       floatEnv("ALERT_THRESHOLD_PCT", 0.03),
		TierFlushSeconds:        tierFlushEnv("TIER_FLUSH_SECONDS"),
		BarFlushIntervalSeconds: intEnv("BAR_FLUSH_INTERVAL_SECONDS", 60),
		ClassifierWarmupBars:    intEnv("CLASSIFIER_WARMUP_BARS", 20),
		ReplayDefaultSpeed:      floatEnv("REPLAY_DEFAULT_SPEED", 1.0),
		ScaleSpeeds:             defaultScaleSpeeds(),
		EvalHorizonsSeconds:     []int{120, 300, 600, 1800},
		EvalMoveThreshold:       floatEnv("EVAL_MOVE_THRESHOLD", 0.003),
		FeedWSURL:               os.Getenv("FEED_WS_URL"),
		HTTPAddr:                stringEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:             os.Getenv("DATABASE_DSN"),
		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatFile:        stringEnv("TELEGRAM_CHAT_FILE", "chat_id.txt"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
	}

	if cfg.DatabaseDSN == "" {
		log.Println("warning: DATABASE_DSN not set; persistence layer will fail to connect")
	}

	return cfg
}

func defaultScaleSpeeds() map[string]ScaleSpeed {
	return map[string]ScaleSpeed{
		"fast":   {Name: "fast", Chunks: 9, Duration: 120},
		"medium": {Name: "medium", Chunks: 6, Duration: 720},
		"slow":   {Name: "slow", Chunks: 4, Duration: 3600},
	}
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func schemaEnv(key string, def DataFeedSchema) DataFeedSchema {
	v := os.Getenv(key)
	switch v {
	case string(SchemaTrades):
		return SchemaTrades
	case string(SchemaQuotes):
		return SchemaQuotes
	default:
		return def
	}
}

func universeEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" || v == "all_us_equities" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func floatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func tierFlushEnv(key string) map[int]int {
	defaults := map[int]int{1: 5, 2: 30, 3: 60, 4: 120, 0: 600}
	v := os.Getenv(key)
	if v == "" {
		return defaults
	}
	// Format: "1:5,2:30,3:60,4:120,0:600"
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		tier, err1 := strconv.Atoi(strings.TrimSpace(kv[0]))
		secs, err2 := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err1 == nil && err2 == nil {
			defaults[tier] = secs
		}
	}
	return defaults
}
