package config

import (
	"os"
	"strings"
	"sync"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	LogLevel       string
	LocalHost      string
	LocalPort      int
	Store          string
	DBPath         string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StoreNamespace string
	APIToken       string
	PollInterval   time.Duration
	OpenAIEndpoint string
	OpenAIModel    string
	OpenAIAPIKey   string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool

	// defaultLocalPort can be overridden at build time with -ldflags -X.
	defaultLocalPort = "4621"
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	level := os.Getenv("ECHODESK_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	localHost := os.Getenv("ECHODESK_LOCAL_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	fallbackPort := atoiOrDefault(defaultLocalPort, 4621)
	localPort := atoiOrDefault(os.Getenv("ECHODESK_LOCAL_PORT"), fallbackPort)

	store := strings.ToLower(strings.TrimSpace(os.Getenv("ECHODESK_STORE")))
	switch store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		store = StoreSQLite
	}
	redisAddr := os.Getenv("ECHODESK_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	pollMS := atoiOrDefault(os.Getenv("ECHODESK_POLL_INTERVAL_MS"), 1000)

	return Config{
		LogLevel:       level,
		LocalHost:      localHost,
		LocalPort:      localPort,
		Store:          store,
		DBPath:         strings.TrimSpace(os.Getenv("ECHODESK_DB_PATH")),
		RedisAddr:      redisAddr,
		RedisPassword:  os.Getenv("ECHODESK_REDIS_PASSWORD"),
		RedisDB:        atoiOrDefault(os.Getenv("ECHODESK_REDIS_DB"), 0),
		StoreNamespace: strings.TrimSpace(os.Getenv("ECHODESK_STORE_NAMESPACE")),
		APIToken:       strings.TrimSpace(os.Getenv("ECHODESK_API_TOKEN")),
		PollInterval:   time.Duration(pollMS) * time.Millisecond,
		OpenAIEndpoint: os.Getenv("OPENAI_ENDPOINT"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
	}
}

// atoiOrDefault parses a positive decimal; anything else yields fallback.
func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
