package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vsnbridge/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
queue:
  backend: memory
bids:
  validity: %s
  offers:
    - source: ethereum
      destination: sonic
      fee: "100"
      execution_time: 600
blockchains:
  ethereum:
    active: true
    provider: http://localhost:8545
    average_block_time: 14
    confirmations: 12
`

func writeConfig(t *testing.T, validity string) string {
	t.Helper()
	if validity == "" {
		validity = "0s"
	}
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, validity)), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Bids.Validity)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, queue.DefaultLease, cfg.Queue.ClaimLease)
	assert.Equal(t, "redis", cfg.Store)

	eth, ok := cfg.Blockchains["ethereum"]
	require.True(t, ok)
	assert.Equal(t, 20, eth.FeeBumpPercent)
	assert.Equal(t, uint64(300000), eth.GasLimit)
	assert.Equal(t, 168*time.Second, eth.ConfirmationDeadline())
}

func TestLoadRejectsShortBidValidity(t *testing.T) {
	for _, validity := range []string{"1s", "-1m", "29s"} {
		_, err := Load(writeConfig(t, validity))
		assert.Error(t, err, validity)
	}

	cfg, err := Load(writeConfig(t, "30s"))
	require.NoError(t, err)
	assert.Equal(t, MinBidValidity, cfg.Bids.Validity)
}

func TestValidate(t *testing.T) {
	valid := func() *Configuration {
		cfg := &Configuration{Blockchains: map[string]BlockchainConfig{}}
		cfg.setDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(cfg *Configuration){
		"unknown store":      func(cfg *Configuration) { cfg.Store = "files" },
		"unknown queue":      func(cfg *Configuration) { cfg.Queue.Backend = "kafka" },
		"negative poll":      func(cfg *Configuration) { cfg.Queue.PollInterval = -time.Second },
		"negative lease":     func(cfg *Configuration) { cfg.Queue.ClaimLease = -time.Second },
		"unknown blockchain": func(cfg *Configuration) { cfg.Blockchains["moon"] = BlockchainConfig{} },
		"no provider": func(cfg *Configuration) {
			cfg.Blockchains["ethereum"] = BlockchainConfig{Active: true, AverageBlockTime: 1, Confirmations: 1, FeeBumpPercent: 20}
		},
		"small fee bump": func(cfg *Configuration) {
			cfg.Blockchains["ethereum"] = BlockchainConfig{Active: true, Provider: "http://a", AverageBlockTime: 1, Confirmations: 1, FeeBumpPercent: 5}
		},
		"unknown offer": func(cfg *Configuration) {
			cfg.Bids.Offers = []BidOffer{{Source: "moon", Destination: "ethereum", Fee: "1"}}
		},
	} {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
