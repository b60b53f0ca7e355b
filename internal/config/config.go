package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environments recognised by NOTIFY_ENVIRONMENT.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config
	SQSRegion   string
	SQSQueueURL string

	// Job storage
	CSVUploadBucket string
	CSVUploadRegion string
	S3Endpoint      string // optional, for localstack/minio
	S3CallTimeout   time.Duration

	// Caches
	JobCacheTTL        time.Duration
	JobCacheMaxEntries int
	ProviderCacheTTL   time.Duration

	// Providers
	AWSRegion         string
	SNSRegion         string  // AWS region for SNS (SMS)
	SNSSMSRate        float64 // local SMS sends per second, 0 disables
	SESRegion         string
	NotifyEmailDomain string

	// Worker
	DeliveryMaxRetries int
	JobRetentionDays   int
	CacheWarmInterval  time.Duration
	CacheCleanInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      EnvDevelopment,

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "notify",
		DBPassword: "",
		DBName:     "notify",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		CSVUploadBucket: "notify-csv-uploads",
		S3CallTimeout:   5 * time.Second,

		JobCacheTTL:        7 * 24 * time.Hour,
		JobCacheMaxEntries: 20000,
		ProviderCacheTTL:   10 * time.Second,

		AWSRegion:         "us-east-1",
		NotifyEmailDomain: "notify.local",

		DeliveryMaxRetries: 5,
		JobRetentionDays:   7,
		CacheWarmInterval:  30 * time.Minute,
		CacheCleanInterval: 10 * time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("NOTIFY_ENVIRONMENT"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Job storage
	if bucket := os.Getenv("CSV_UPLOAD_BUCKET"); bucket != "" {
		cfg.CSVUploadBucket = bucket
	}

	if region := os.Getenv("CSV_UPLOAD_REGION"); region != "" {
		cfg.CSVUploadRegion = region
	} else {
		cfg.CSVUploadRegion = cfg.AWSRegion
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		cfg.S3Endpoint = endpoint
	}

	var err error
	if cfg.S3CallTimeout, err = durationEnv("S3_CALL_TIMEOUT", cfg.S3CallTimeout); err != nil {
		return nil, err
	}

	// Caches
	if cfg.JobCacheTTL, err = durationEnv("JOB_CACHE_TTL", cfg.JobCacheTTL); err != nil {
		return nil, err
	}

	if n := os.Getenv("JOB_CACHE_MAX_ENTRIES"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid JOB_CACHE_MAX_ENTRIES: %w", err)
		}
		cfg.JobCacheMaxEntries = v
	}

	if cfg.ProviderCacheTTL, err = durationEnv("PROVIDER_CACHE_TTL", cfg.ProviderCacheTTL); err != nil {
		return nil, err
	}

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if rate := os.Getenv("SNS_SMS_RATE"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SNS_SMS_RATE: %w", err)
		}
		cfg.SNSSMSRate = r
	}

	// SES config for email
	if region := os.Getenv("SES_REGION"); region != "" {
		cfg.SESRegion = region
	} else {
		cfg.SESRegion = cfg.AWSRegion
	}

	if domain := os.Getenv("NOTIFY_EMAIL_DOMAIN"); domain != "" {
		cfg.NotifyEmailDomain = domain
	}

	// Worker
	if n := os.Getenv("DELIVERY_MAX_RETRIES"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_MAX_RETRIES: %w", err)
		}
		cfg.DeliveryMaxRetries = v
	}

	if n := os.Getenv("JOB_RETENTION_DAYS"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("invalid JOB_RETENTION_DAYS: %w", err)
		}
		cfg.JobRetentionDays = v
	}

	if cfg.CacheWarmInterval, err = durationEnv("CACHE_WARM_INTERVAL", cfg.CacheWarmInterval); err != nil {
		return nil, err
	}

	if cfg.CacheCleanInterval, err = durationEnv("CACHE_CLEAN_INTERVAL", cfg.CacheCleanInterval); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabaseURL builds the postgres connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// IsTestEnvironment reports whether numbers should be sent exactly as given.
func (c *Config) IsTestEnvironment() bool {
	return c.Env == EnvTest
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
