package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Firebase Config
	FirebaseCredentials string

	// Twilio Config
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// SMTP Settings
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Lifecycle Settings
	DefaultCountdownSeconds int
	DeviceCountdownSeconds  int
	EscalationTimeout       time.Duration
	FollowUpInterval        time.Duration
	MaxFollowUps            int

	// Delivery Settings
	WorkerCount int
	QueueSize   int
	SendTimeout time.Duration

	// Event Bus Settings
	EventStream   string
	ConsumerGroup string
	ConsumerName  string
}

func Load() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "lifeline"
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "mongodb://localhost:27017/lifeline"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "your-super-secret-jwt-key"),

		// Firebase
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		// Twilio
		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),

		// SMTP
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@lifeline.app"),

		// Lifecycle
		DefaultCountdownSeconds: getEnvAsInt("DEFAULT_COUNTDOWN_SECONDS", 10),
		DeviceCountdownSeconds:  getEnvAsInt("DEVICE_COUNTDOWN_SECONDS", 30),
		EscalationTimeout:       getEnvAsDuration("ESCALATION_TIMEOUT", 2*time.Minute),
		FollowUpInterval:        getEnvAsDuration("FOLLOW_UP_INTERVAL", 30*time.Second),
		MaxFollowUps:            getEnvAsInt("MAX_FOLLOW_UPS", 10),

		// Delivery
		WorkerCount: getEnvAsInt("DELIVERY_WORKER_COUNT", 5),
		QueueSize:   getEnvAsInt("DELIVERY_QUEUE_SIZE", 1000),
		SendTimeout: getEnvAsDuration("DELIVERY_SEND_TIMEOUT", 15*time.Second),

		// Event bus
		EventStream:   getEnv("EVENT_STREAM", "lifeline:events"),
		ConsumerGroup: getEnv("EVENT_CONSUMER_GROUP", "dispatchers"),
		ConsumerName:  getEnv("EVENT_CONSUMER_NAME", hostname),
	}
}

func InitRedis(cfg *Config) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		opt = &redis.Options{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		}
	}

	return redis.NewClient(opt)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
