package config

import "sort"

// Preset names
const (
	PresetStable = "stable"
	PresetDirect = "direct"
	PresetCalm   = "calm"
)

// Preset is a named bundle of trigger and smoothing settings
type Preset struct {
	Name               string
	Description        string
	StabilityThreshold int
	CooldownSeconds    float64
	HistoryCapacity    int
}

var presets = map[string]Preset{
	PresetStable: {
		Name:               PresetStable,
		Description:        "count must hold 5 ticks, 1s between clips",
		StabilityThreshold: 5,
		CooldownSeconds:    1.0,
		HistoryCapacity:    5,
	},
	PresetDirect: {
		Name:               PresetDirect,
		Description:        "announce every change of the 3-sample median immediately",
		StabilityThreshold: 1,
		CooldownSeconds:    0,
		HistoryCapacity:    3,
	},
	PresetCalm: {
		Name:               PresetCalm,
		Description:        "count must hold 8 ticks, 3s between clips",
		StabilityThreshold: 8,
		CooldownSeconds:    3.0,
		HistoryCapacity:    5,
	},
}

// LookupPreset returns the preset registered under name
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known presets in alphabetical order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Presets returns all presets in alphabetical order
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, n := range PresetNames() {
		out = append(out, presets[n])
	}
	return out
}
