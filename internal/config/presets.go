package config

import (
	"fmt"
	"sort"
)

// Named scenarios reproducing the reference experiments.
var presets = map[string]func() ScenarioConfig{
	// 50 peers scramble for the hub for 60 ticks with occasional hub crashes.
	"baseline": DefaultScenario,
	// 2 survivors of a full reset must re-elect and talk to each other.
	"survivors": func() ScenarioConfig {
		s := DefaultScenario()
		s.NodeCount = 50
		s.TickCount = 40
		s.ChurnProbability = 0
		s.SendProbability = 0
		return s
	},
	// 20 peers on a slow, unstable network.
	"stress": func() ScenarioConfig {
		s := DefaultScenario()
		s.NodeCount = 20
		s.TickCount = 100
		s.MaxDelay = 3
		s.ChurnProbability = 0.2
		s.SendProbability = 0.1
		s.LossThreshold = 0.5
		return s
	},
}

// Preset returns the named scenario.
func Preset(name string) (ScenarioConfig, error) {
	f, ok := presets[name]
	if !ok {
		return ScenarioConfig{}, fmt.Errorf("unknown preset %q (known: %v)", name, PresetNames())
	}
	return f(), nil
}

// PresetNames lists the known presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
