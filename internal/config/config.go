// Package config loads server configuration from flags with
// environment-variable fallback, the same layering the reference deployment
// uses for its own process configuration.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	Port int
	Host string

	// Database
	MongoURI string

	// Credential store
	Passphrase string

	// Session phase durations, mirroring the reference deployment's
	// single-day demo run.
	PreOpenMs    int
	OpenMs       int
	ContinuousMs int
	LoopMs       int
	PreCloseMs   int

	// Dispatcher
	ProcessingDelayMs int

	// S3 cold-storage archival (opt-in: only active when S3Bucket is set)
	S3Bucket             string
	S3Region             string
	S3Prefix             string
	ArchiveIntervalHours int
	ArchiveAfterHours    int
}

// Load parses flags, each defaulting to its environment variable when that
// is set (see envStr/envInt), and returns the resolved configuration.
func Load() *Config {
	c := &Config{}

	flag.IntVar(&c.Port, "port", envInt("EXCHANGE_PORT", 9100), "TCP server port")
	flag.StringVar(&c.Host, "host", envStr("EXCHANGE_HOST", "0.0.0.0"), "Listen host")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/exchange"), "MongoDB connection URI")
	flag.StringVar(&c.Passphrase, "passphrase", envStr("EXCHANGE_PASSPHRASE", "change-me"), "Passphrase used to derive the password encryption key")

	flag.IntVar(&c.PreOpenMs, "pre-open-ms", envInt("PRE_OPEN_MS", 1000), "PreOpen phase duration in ms")
	flag.IntVar(&c.OpenMs, "open-ms", envInt("OPEN_MS", 1000), "OpenFixing phase duration in ms")
	flag.IntVar(&c.ContinuousMs, "continuous-ms", envInt("CONTINUOUS_MS", 30000), "Continuous trading phase duration in ms")
	flag.IntVar(&c.LoopMs, "loop-ms", envInt("LOOP_MS", 1000), "Continuous phase poll interval in ms")
	flag.IntVar(&c.PreCloseMs, "pre-close-ms", envInt("PRE_CLOSE_MS", 1000), "PreClose phase duration in ms")

	flag.IntVar(&c.ProcessingDelayMs, "processing-delay-ms", envInt("PROCESSING_DELAY_MS", 0), "Simulated venue latency before each continuous match attempt")

	flag.StringVar(&c.S3Bucket, "s3-bucket", envStr("S3_BUCKET", ""), "S3 bucket for cold-storage archival (empty = disabled)")
	flag.StringVar(&c.S3Region, "s3-region", envStr("S3_REGION", "us-east-1"), "AWS region for S3")
	flag.StringVar(&c.S3Prefix, "s3-prefix", envStr("S3_PREFIX", "exchange"), "S3 key prefix for archived rows")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "Archive rows older than this many hours")

	flag.Parse()

	return c
}

// PreOpen returns the PreOpen phase duration as a time.Duration.
func (c *Config) PreOpen() time.Duration { return time.Duration(c.PreOpenMs) * time.Millisecond }

// Open returns the OpenFixing phase duration as a time.Duration.
func (c *Config) Open() time.Duration { return time.Duration(c.OpenMs) * time.Millisecond }

// Continuous returns the Continuous phase duration as a time.Duration.
func (c *Config) Continuous() time.Duration { return time.Duration(c.ContinuousMs) * time.Millisecond }

// Loop returns the continuous-phase poll interval as a time.Duration.
func (c *Config) Loop() time.Duration { return time.Duration(c.LoopMs) * time.Millisecond }

// PreClose returns the PreClose phase duration as a time.Duration.
func (c *Config) PreClose() time.Duration { return time.Duration(c.PreCloseMs) * time.Millisecond }

// ProcessingDelay returns the simulated per-match venue latency.
func (c *Config) ProcessingDelay() time.Duration {
	return time.Duration(c.ProcessingDelayMs) * time.Millisecond
}

// ArchiveEnabled reports whether a bucket is configured.
func (c *Config) ArchiveEnabled() bool { return c.S3Bucket != "" }

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
