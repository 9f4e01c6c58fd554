package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"must-hop/internal/netmgr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "node.yaml", `
node:
  address: 7
  max_hops: 4
  tick_interval: 50ms
mesh:
  pending_capacity: 8
  initial_backoff: 1s
radio:
  listen: ":9301"
  peers: ["127.0.0.1:9302"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.Node.Address)
	assert.Equal(t, uint8(4), cfg.Node.MaxHops)
	assert.Equal(t, 50*time.Millisecond, cfg.Node.TickInterval.Std())
	assert.Equal(t, []string{"127.0.0.1:9302"}, cfg.Radio.Peers)
	assert.Equal(t, 8, cfg.RouterConfig().PendingCapacity)
	assert.Equal(t, time.Second, cfg.RouterConfig().InitialBackoff)
	assert.Equal(t, netmgr.RoleNode, cfg.ManagerConfig().Role)
}

func TestDurationFormats(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want time.Duration
	}{
		{"string", "tick_interval: 2m30s", 2*time.Minute + 30*time.Second},
		{"nanoseconds", "tick_interval: 50000000", 50 * time.Millisecond},
		{"quoted string", `tick_interval: "250ms"`, 250 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "d.yaml", "node:\n  address: 1\n  "+tc.yaml+"\n")
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Node.TickInterval.Std())
		})
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeFile(t, "bad.yaml", "node:\n  tick_interval: soonish\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadJSONFallback(t *testing.T) {
	path := writeFile(t, "gw.json", `{
  "node": {"address": 0, "gateway": true, "tick_interval": "1s"},
  "uplink": {"broker": "tcp://localhost:1883"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Node.Gateway)
	assert.Equal(t, netmgr.RoleGateway, cfg.ManagerConfig().Role)
	assert.Equal(t, time.Second, cfg.Node.TickInterval.Std())
	assert.Equal(t, "tcp://localhost:1883", cfg.Uplink.Broker)
}

func TestDefaults(t *testing.T) {
	path := writeFile(t, "min.yaml", "node:\n  address: 1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Node.TickInterval.Std())
	assert.Equal(t, "must-hop/uplink", cfg.Uplink.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
