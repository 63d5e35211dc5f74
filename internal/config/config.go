package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selectors
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"

	FeedMongo = "mongo"
	FeedKafka = "kafka"

	ProviderGoogle = "google"
	ProviderMock   = "mock"

	AudioBridge = "bridge"
	AudioPulse  = "pulse"
)

// Config holds the configuration of the scribe process
type Config struct {
	Port   string
	AppEnv string

	// Storage
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Backends
	DeferredStore string
	ChangeFeed    string

	// Kafka
	KafkaBrokers       []string
	KafkaInviteTopic   string
	KafkaGroupID       string
	KafkaArtifactTopic string

	// Recognition and capture
	STTProvider string
	STTLanguage string
	AudioSource string
	PulseDevice string
	FFmpegPath  string

	// Platform bridge
	BridgeURL    string
	BridgeSecret string
	ScribeName   string

	// SystemSenders overrides the platform notice senders ignored in chat
	SystemSenders []string

	// Delivery
	EmailSource  string
	GeminiAPIKey string
	GeminiModel  string
	S3Bucket     string
	AWSRegion    string
	S3Endpoint   string

	// Dispatch and sessions
	DispatchLeadTime       time.Duration
	DispatchLaunchAttempts int
	WaitingTimeout         time.Duration
	MeetingTimeout         time.Duration
	MaxConcurrentSessions  int
	DrainTimeout           time.Duration
	PollInterval           time.Duration
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "production"),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "scribe"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		DeferredStore: getEnv("DEFERRED_STORE", StoreRedis),
		ChangeFeed:    getEnv("CHANGE_FEED", FeedMongo),

		KafkaBrokers:       getList("KAFKA_BROKERS"),
		KafkaInviteTopic:   getEnv("KAFKA_INVITE_TOPIC", "invite-changes"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "scribe-dispatch"),
		KafkaArtifactTopic: getEnv("KAFKA_ARTIFACT_TOPIC", ""),

		STTProvider: getEnv("STT_PROVIDER", ProviderGoogle),
		STTLanguage: getEnv("STT_LANGUAGE", "en-US"),
		AudioSource: getEnv("AUDIO_SOURCE", AudioBridge),
		PulseDevice: getEnv("PULSE_DEVICE", "default"),
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),

		BridgeURL:    getEnv("BRIDGE_URL", ""),
		BridgeSecret: getEnv("BRIDGE_SECRET", ""),
		ScribeName:   getEnv("SCRIBE_NAME", "Scribe"),

		SystemSenders: getList("SYSTEM_SENDERS"),

		EmailSource:  getEnv("EMAIL_SOURCE", ""),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		DispatchLeadTime:       getDuration("DISPATCH_LEAD_TIME", 2*time.Minute),
		DispatchLaunchAttempts: getInt("DISPATCH_LAUNCH_ATTEMPTS", 3),
		WaitingTimeout:         getDuration("WAITING_TIMEOUT", 5*time.Minute),
		MeetingTimeout:         getDuration("MEETING_TIMEOUT", 6*time.Hour),
		MaxConcurrentSessions:  getInt("MAX_CONCURRENT_SESSIONS", 10),
		DrainTimeout:           getDuration("DRAIN_TIMEOUT", 30*time.Second),
		PollInterval:           getDuration("POLL_INTERVAL", time.Second),
	}
	return cfg, nil
}

// Development reports whether APP_ENV selects development logging
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Validate reports every missing or inconsistent setting
func (c *Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.BridgeURL == "" {
		errs = append(errs, errors.New("BRIDGE_URL is required"))
	}
	if c.BridgeSecret == "" {
		errs = append(errs, errors.New("BRIDGE_SECRET is required"))
	}

	switch c.DeferredStore {
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("DEFERRED_STORE must be %s or %s, got %q", StoreRedis, StoreMemory, c.DeferredStore))
	}

	switch c.ChangeFeed {
	case FeedMongo:
	case FeedKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka change feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("CHANGE_FEED must be %s or %s, got %q", FeedMongo, FeedKafka, c.ChangeFeed))
	}
	if c.KafkaArtifactTopic != "" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required for artifact notifications"))
	}

	if c.STTProvider != ProviderGoogle && c.STTProvider != ProviderMock {
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be %s or %s, got %q", ProviderGoogle, ProviderMock, c.STTProvider))
	}
	if c.AudioSource != AudioBridge && c.AudioSource != AudioPulse {
		errs = append(errs, fmt.Errorf("AUDIO_SOURCE must be %s or %s, got %q", AudioBridge, AudioPulse, c.AudioSource))
	}

	if c.DispatchLeadTime < 0 {
		errs = append(errs, errors.New("DISPATCH_LEAD_TIME must not be negative"))
	}
	if c.DispatchLaunchAttempts < 1 {
		errs = append(errs, errors.New("DISPATCH_LAUNCH_ATTEMPTS must be at least 1"))
	}
	if c.WaitingTimeout <= 0 || c.MeetingTimeout <= 0 || c.DrainTimeout <= 0 || c.PollInterval <= 0 {
		errs = append(errs, errors.New("timeouts and intervals must be positive"))
	}
	if c.MaxConcurrentSessions < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_SESSIONS must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
