package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.JobCacheTTL != 7*24*time.Hour {
		t.Errorf("expected 7 day job cache TTL, got %v", cfg.JobCacheTTL)
	}
	if cfg.JobCacheMaxEntries != 20000 {
		t.Errorf("expected 20000 entries, got %d", cfg.JobCacheMaxEntries)
	}
	if cfg.ProviderCacheTTL != 10*time.Second {
		t.Errorf("expected 10s provider cache TTL, got %v", cfg.ProviderCacheTTL)
	}
	if cfg.SNSRegion != cfg.AWSRegion || cfg.CSVUploadRegion != cfg.AWSRegion {
		t.Error("regions should default to AWS_REGION")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("NOTIFY_ENVIRONMENT", "test")
	t.Setenv("CSV_UPLOAD_BUCKET", "jobs")
	t.Setenv("JOB_CACHE_TTL", "1h")
	t.Setenv("SNS_SMS_RATE", "20")
	t.Setenv("AWS_REGION", "us-west-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.IsTestEnvironment() {
		t.Error("expected test environment")
	}
	if cfg.CSVUploadBucket != "jobs" {
		t.Errorf("expected bucket jobs, got %s", cfg.CSVUploadBucket)
	}
	if cfg.JobCacheTTL != time.Hour {
		t.Errorf("expected 1h, got %v", cfg.JobCacheTTL)
	}
	if cfg.SNSSMSRate != 20 {
		t.Errorf("expected rate 20, got %v", cfg.SNSSMSRate)
	}
	if cfg.SESRegion != "us-west-2" {
		t.Errorf("expected SES region to follow AWS_REGION, got %s", cfg.SESRegion)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"REDIS_PORT", "x"},
		{"S3_CALL_TIMEOUT", "5"},
		{"JOB_CACHE_MAX_ENTRIES", "many"},
		{"DELIVERY_MAX_RETRIES", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: 5432, DBName: "n", DBSSLMode: "disable"}
	want := "postgres://u:p@h:5432/n?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
