package sim

import (
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"must-hop/internal/config"
)

type NodeCfg struct {
	Count   int     `yaml:"count" json:"count"`
	Spacing float64 `yaml:"spacing" json:"spacing"` // grid pitch in metres
}

type TrafficCfg struct {
	// SendEveryTicks makes each node submit one reading toward the
	// gateway every N ticks. Zero disables traffic generation.
	SendEveryTicks int  `yaml:"send_every_ticks" json:"send_every_ticks"`
	RequestAcks    bool `yaml:"request_acks" json:"request_acks"`
}

type MeshCfg struct {
	MaxHops        uint8           `yaml:"max_hops" json:"max_hops"`
	MaxRetries     int             `yaml:"max_retries" json:"max_retries"`
	InitialBackoff config.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     config.Duration `yaml:"max_backoff" json:"max_backoff"`
}

type LogCfg struct {
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

type Scenario struct {
	Seed     int64           `yaml:"seed" json:"seed"`
	Ticks    int             `yaml:"ticks" json:"ticks"`
	TickStep config.Duration `yaml:"tick_step" json:"tick_step"`
	Range    float64         `yaml:"range" json:"range"` // radio range in metres
	Loss     float64         `yaml:"loss" json:"loss"`   // per-link frame loss probability
	Nodes    NodeCfg         `yaml:"nodes" json:"nodes"`
	Traffic  TrafficCfg      `yaml:"traffic" json:"traffic"`
	Mesh     MeshCfg         `yaml:"mesh" json:"mesh"`
	Logging  LogCfg          `yaml:"logging" json:"logging"`
}

func (sc *Scenario) applyDefaults() {
	if sc.Ticks <= 0 {
		sc.Ticks = 600
	}
	if sc.TickStep <= 0 {
		sc.TickStep = config.Duration(100 * time.Millisecond)
	}
	if sc.Nodes.Count <= 0 {
		sc.Nodes.Count = 9
	}
	if sc.Nodes.Spacing <= 0 {
		sc.Nodes.Spacing = 100
	}
	if sc.Traffic.SendEveryTicks == 0 {
		sc.Traffic.SendEveryTicks = 50
	}
}

// LoadScenario reads a YAML scenario description, falling back to JSON.
func LoadScenario(path string) (*Scenario, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := &Scenario{}
	if yaml.Unmarshal(buf, sc) == nil {
		sc.applyDefaults()
		return sc, nil
	}
	if err := json.Unmarshal(buf, sc); err != nil {
		return nil, err
	}
	sc.applyDefaults()
	return sc, nil
}
