package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	DBPath  string
	Workers int

	VideoDir string
	WorkDir  string

	// PublicURL prefixes status and download links, e.g. https://clips.example.com.
	PublicURL string

	Retention     time.Duration
	SweepInterval time.Duration

	YtDlpPath   string
	FFmpegPath  string
	FFprobePath string
	CookiesFile string

	PersistRetries int
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:    getEnv("PORT", "3000"),
		DBPath:  getEnv("DB_PATH", "clipper.db"),
		Workers: getEnvInt("WORKERS", 2, 64),

		VideoDir: getEnv("VIDEO_DIR", "videos"),
		WorkDir:  getEnv("WORK_DIR", filepath.Join(os.TempDir(), "clipper")),

		PublicURL: getEnv("SCHEME", "http") + "://" + getEnv("DOMAIN", "localhost:3000"),

		Retention:     getEnvDuration("RETENTION", 24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),

		YtDlpPath:   getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		CookiesFile: getEnv("COOKIES_FILE", ""),

		PersistRetries: getEnvInt("PERSIST_RETRIES", 3, 20),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt reads a positive integer, capped at maximum.
func getEnvInt(key string, fallback, maximum int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, maximum)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
