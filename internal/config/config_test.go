package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
exchange:
  api_key: key
  api_secret: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT:USDT", cfg.Exchange.Symbol)
	assert.Equal(t, "websocket", cfg.Exchange.Stream)
	assert.Equal(t, time.Second, cfg.Strategy.OrderUpdateInterval)
	assert.Equal(t, 10*time.Second, cfg.Feed.MaxDataAge)
	assert.Equal(t, 30*time.Second, cfg.Feed.MaxReconnectDelay)
	assert.Equal(t, 3, cfg.Execution.MaxRetries)
	assert.Equal(t, "minimal_diff", cfg.Execution.Policy)
	assert.Equal(t, 10, cfg.Risk.MaxOrders)
	assert.Equal(t, 0.1, cfg.Strategy.EffectiveInventoryLimit(), "inventory_range is used when inventory_limit is unset")
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("HTXMM_EXCHANGE_API_KEY", "from-env")
	t.Setenv("HTXMM_EXECUTION_POLICY", "full_replace")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Exchange.APIKey)
	assert.Equal(t, "full_replace", cfg.Execution.Policy)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+"\nstrategy:\n  kapa: 0.2\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	_, err := Load(writeConfig(t, `
exchange:
  api_key: key
  api_secret: secret
  stream: carrier-pigeon
execution:
  policy: yolo
risk:
  min_spread: 0.01
  max_spread: 0.001
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "exchange.stream")
	assert.Contains(t, msg, "execution.policy")
	assert.Contains(t, msg, "risk.min_spread")
}

func TestValidateRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange.api_key")
}

func TestEffectiveInventoryLimitPrefersExplicitLimit(t *testing.T) {
	s := StrategyConfig{InventoryLimit: 5, InventoryRange: 0.1}
	assert.Equal(t, 5.0, s.EffectiveInventoryLimit())
}
