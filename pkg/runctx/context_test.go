package runctx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ResolvesEnvIndirection(t *testing.T) {
	t.Setenv("AEGIS_TEST_SECRET", "s3cret")

	ctx, err := Load(&MapSource{Values: map[string]interface{}{
		"api.key": "ENV:AEGIS_TEST_SECRET",
	}})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", ctx.GetString("api.key", ""))
}

func TestLoad_EnvIndirectionFallback(t *testing.T) {
	ctx, err := Load(&MapSource{Values: map[string]interface{}{
		"api.url": "ENV:AEGIS_TEST_UNSET_URL:https://example.invalid",
	}})
	require.NoError(t, err)

	assert.Equal(t, "https://example.invalid", ctx.GetString("api.url", ""))
}

func TestLoad_EnvIndirectionMissingFails(t *testing.T) {
	_, err := Load(&MapSource{Values: map[string]interface{}{
		"api.key": "ENV:AEGIS_TEST_DEFINITELY_UNSET",
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "api.key", cfgErr.Key)
}

func TestLoad_EmptyEnvNameFails(t *testing.T) {
	_, err := Load(&MapSource{Values: map[string]interface{}{
		"bad": "ENV:",
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestLoad_SourcePriorityOrdering(t *testing.T) {
	// Map (25) must override file defaults (10) regardless of argument order.
	ctx, err := Load(
		&MapSource{Values: map[string]interface{}{KeySandbox: true}},
		&DefaultsSource{},
	)
	require.NoError(t, err)
	assert.True(t, ctx.Sandboxed())
}

func TestContext_TypedGetters(t *testing.T) {
	ctx, err := Load(&MapSource{Values: map[string]interface{}{
		"count":   "4",
		"enabled": "true",
		"wait":    "250ms",
	}})
	require.NoError(t, err)

	assert.Equal(t, 4, ctx.GetInt("count", 0))
	assert.True(t, ctx.GetBool("enabled", false))
	assert.Equal(t, 250*time.Millisecond, ctx.GetDuration("wait", 0))

	// Defaults for absent keys.
	assert.Equal(t, 9, ctx.GetInt("missing", 9))
	assert.Equal(t, "fallback", ctx.GetString("missing", "fallback"))
	assert.Equal(t, time.Second, ctx.GetDuration("missing", time.Second))
	assert.Equal(t, "raw", ctx.Get("missing", "raw"))
}

func TestContext_WorkAndTempDirDefaults(t *testing.T) {
	ctx, err := Load(&DefaultsSource{})
	require.NoError(t, err)

	assert.NotEmpty(t, ctx.WorkDir())
	assert.NotEmpty(t, ctx.TempDir())
	assert.False(t, ctx.Sandboxed())
}

func TestContext_AllReturnsCopy(t *testing.T) {
	ctx, err := Load(&MapSource{Values: map[string]interface{}{"k": "v"}})
	require.NoError(t, err)

	all := ctx.All()
	all["k"] = "changed"

	assert.Equal(t, "v", ctx.GetString("k", ""))
}

func TestEnvSource_PrefixMapping(t *testing.T) {
	t.Setenv("AEGIS_SCAN_TARGET", "10.0.0.0/24")

	ctx, err := Load(&EnvSource{})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0/24", ctx.GetString("scan.target", ""))
}
