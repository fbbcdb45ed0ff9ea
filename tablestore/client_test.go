package tablestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kaiwa0/kaiwa/internal/log"
)

func validConfig() Config {
	return Config{
		Endpoint:        "https://demo.cn-hangzhou.ots.aliyuncs.com",
		Instance:        "demo",
		AccessKeyID:     "ak",
		AccessKeySecret: "secret",
	}
}

func TestPublicEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{
			name:     "vpc endpoint rewritten",
			endpoint: "https://demo.cn-hangzhou.vpc.tablestore.aliyuncs.com",
			want:     "https://demo.cn-hangzhou.ots.aliyuncs.com",
		},
		{
			name:     "vpc endpoint with trailing slash",
			endpoint: "https://demo.cn-hangzhou.vpc.tablestore.aliyuncs.com/",
			want:     "https://demo.cn-hangzhou.ots.aliyuncs.com",
		},
		{
			name:     "public endpoint unchanged",
			endpoint: "https://demo.cn-hangzhou.ots.aliyuncs.com",
			want:     "https://demo.cn-hangzhou.ots.aliyuncs.com",
		},
		{
			name:     "private deployment unchanged",
			endpoint: "https://ots.corp.internal:8080",
			want:     "https://ots.corp.internal:8080",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PublicEndpoint(tt.endpoint))
		})
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }},
		{"missing instance", func(c *Config) { c.Instance = "" }},
		{"missing key id", func(c *Config) { c.AccessKeyID = "" }},
		{"missing key secret", func(c *Config) { c.AccessKeySecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "tablestore config")
		})
	}
}

func TestNewAppliesOptions(t *testing.T) {
	t.Parallel()

	s, err := New(validConfig(),
		WithLogger(log.NewNop()),
		WithRateLimit(25),
		WithHTTPTimeout(5*time.Second),
		WithRetries(3),
	)
	require.NoError(t, err)

	require.NotNil(t, s.limiter)
	assert.Equal(t, rate.Limit(25), s.limiter.Limit())
	assert.Equal(t, 5*time.Second, s.httpTimeout)
	assert.Equal(t, uint(3), s.retries)
	assert.Equal(t, validConfig().Endpoint, s.Endpoint())
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	s, err := New(validConfig(), WithRateLimit(0))
	require.NoError(t, err)

	assert.Nil(t, s.limiter)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.client)
}

func TestNewFromResolver(t *testing.T) {
	t.Parallel()

	var gotName string
	resolve := func(ctx context.Context, name string) (Config, error) {
		gotName = name
		cfg := validConfig()
		cfg.Endpoint = "https://demo.cn-hangzhou.vpc.tablestore.aliyuncs.com"
		return cfg, nil
	}

	s, err := NewFromResolver(context.Background(), "conversations", resolve, WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, "conversations", gotName)
	assert.Equal(t, "https://demo.cn-hangzhou.ots.aliyuncs.com", s.Endpoint())
}

func TestNewFromResolverError(t *testing.T) {
	t.Parallel()

	boom := errors.New("sts unavailable")
	_, err := NewFromResolver(context.Background(), "conversations", func(ctx context.Context, name string) (Config, error) {
		return Config{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `resolve tablestore config "conversations"`)
}
