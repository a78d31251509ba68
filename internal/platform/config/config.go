package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go2tv.app/screencastd/internal/apis"
	"go2tv.app/screencastd/internal/core"
)

// Load reads .env style files into the environment. Variables already set
// win. With no paths, ".env" is used. A missing file is an error callers may
// ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of key, or fallback if unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset, empty or
// not an integer.
func GetEnvInt(key string, fallback int) int {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func BoolEnv(name string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return defaultValue
	}

	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return defaultValue
	}
}

func IntEnvClamped(name string, defaultValue, minValue, maxValue int) int {
	n := GetEnvInt(name, defaultValue)
	if minValue <= maxValue {
		n = min(max(n, minValue), maxValue)
	}
	return n
}

// Config is the daemon configuration.
type Config struct {
	Bus         string
	OutputsFile string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	Debug       bool
	DebugFile   string
	Animate     bool
	Core        core.Config
}

// FromEnv reads the daemon configuration from the environment.
func FromEnv() Config {
	cfg := Config{
		Bus:         apis.BusKind(GetEnv("SCREENCAST_BUS", apis.SessionBus)),
		OutputsFile: GetEnv("SCREENCAST_OUTPUTS_FILE", "outputs.toml"),
		MetricsAddr: os.Getenv("SCREENCAST_METRICS_ADDR"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
		Debug:       BoolEnv("SCREENCAST_DEBUG", false),
		DebugFile:   GetEnv("SCREENCAST_DEBUG_FILE", ""),
		Animate:     BoolEnv("SCREENCAST_ANIMATE_POINTER", true),
		Core: core.Config{
			MaxSessions:          max(GetEnvInt("SCREENCAST_MAX_SESSIONS", 8), 0),
			MaxStreamsPerSession: max(GetEnvInt("SCREENCAST_MAX_STREAMS", 4), 0),
			BufferCount:          IntEnvClamped("SCREENCAST_BUFFER_COUNT", core.DefaultBufferCount, 2, 8),
			MaxFPS:               uint32(IntEnvClamped("SCREENCAST_MAX_FPS", core.MaxFPS, 1, core.MaxFPS)),
			CloseGrace:           time.Duration(IntEnvClamped("SCREENCAST_CLOSE_GRACE_MS", 500, 0, 60000)) * time.Millisecond,
		},
	}
	if _, set := os.LookupEnv("SCREENCAST_METRICS_ADDR"); !set {
		cfg.MetricsAddr = ":9464"
	}
	return cfg
}
