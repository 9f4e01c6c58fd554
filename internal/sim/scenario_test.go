package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarioDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ticks: 300
tick_step: 200ms
range: 150
nodes:
  count: 4
  spacing: 90
mesh:
  max_hops: 3
  initial_backoff: 1s
  max_backoff: 8s
`), 0644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 300, sc.Ticks)
	assert.Equal(t, 200*time.Millisecond, sc.TickStep.Std())
	assert.Equal(t, time.Second, sc.Mesh.InitialBackoff.Std())
	assert.Equal(t, 8*time.Second, sc.Mesh.MaxBackoff.Std())
	assert.Equal(t, 4, sc.Nodes.Count)
}

func TestLoadScenarioDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("range: 100\n"), 0644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, sc.TickStep.Std())
	assert.Greater(t, sc.Ticks, 0)
	assert.Greater(t, sc.Nodes.Count, 0)
}
