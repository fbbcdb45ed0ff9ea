package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_DefaultAgentHost(t *testing.T) {
	t.Parallel()

	cfg := Config{
		AgentHost:   "", // Empty should use default
		Environment: "test",
		ServiceName: "test-service",
	}

	ctx := context.Background()
	shutdown, err := SetupTracing(ctx, cfg)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// No spans were recorded, so flushing against a missing collector is
	// still clean.
	assert.NoError(t, shutdown(ctx))
}

func TestSetupTracing_CustomAgentHost(t *testing.T) {
	t.Parallel()

	cfg := Config{
		AgentHost:   "collector.internal:4318",
		Environment: "staging",
		ServiceName: "kaiwa-staging",
	}

	ctx := context.Background()
	shutdown, err := SetupTracing(ctx, cfg)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
}

func TestSetupTracing_EmptyConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shutdown, err := SetupTracing(ctx, Config{})

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
}

func TestDefaultAgentHost_Value(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "localhost:4318", DefaultAgentHost)
}
