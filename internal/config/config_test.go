package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_COOKIE_SECRET", "cookie-secret")
	t.Setenv("RECEIPT_SIGNING_SECRET", "receipt-secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STORAGE_DRIVER", "memory")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "applications", cfg.ApplicationCollection)
	assert.Equal(t, "failed_notifications", cfg.FailedNotificationCollection)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.ResolverWait)
	assert.Equal(t, int64(12<<20), cfg.UploadMaxFileBytes)
	assert.Equal(t, 5, cfg.UploadMaxDocuments)
	assert.Equal(t, []byte("cookie-secret"), cfg.SessionCookieSecret)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "S3")
	t.Setenv("S3_BUCKET", "uploads")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")
	t.Setenv("RESOLVER_WAIT", "750ms")
	t.Setenv("UPLOAD_MAX_DOCUMENTS", "3")
	t.Setenv("PUBLIC_BASE_URL", "https://api.test/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverS3, cfg.StorageDriver)
	assert.Equal(t, "uploads", cfg.S3.Bucket)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.ResolverWait)
	assert.Equal(t, 3, cfg.UploadMaxDocuments)
	assert.Equal(t, "https://api.test", cfg.PublicBaseURL)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":    {"STORE_DRIVER": "postgres"},
		"missing bucket":   {"STORAGE_DRIVER": "s3"},
		"missing cookie":   {"SESSION_COOKIE_SECRET": ""},
		"missing receipt":  {"RECEIPT_SIGNING_SECRET": ""},
		"non positive cap": {"UPLOAD_MAX_DOCUMENTS": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
