package config

import "sort"

// Presets are named solver profiles per model: a coarse/accurate pair
// for the smooth problems and longer or strategy-specific variants
// where the model calls for them.
var Presets = map[string]map[string]*Config{
	"decay": {
		"quick": preset("decay", 2, 1e-3, 1e-6),
		"tight": preset("decay", 4, 1e-9, 1e-11),
	},
	"prothero": {
		"standard": preset("prothero", 4, 1e-6, 1e-8),
		"tight":    preset("prothero", 6, 1e-9, 1e-11),
	},
	"vanderpol": {
		"standard":   preset("vanderpol", 4, 1e-6, 1e-8),
		"increments": withUnknowns(preset("vanderpol", 4, 1e-6, 1e-8), "increments"),
	},
	"robertson": {
		"standard": preset("robertson", 4, 1e-6, 1e-10),
		"long":     withSpan(preset("robertson", 4, 1e-6, 1e-10), 0, 1e5),
	},
}

func preset(model string, stages int, rtol, atol float64) *Config {
	cfg := DefaultConfig()
	cfg.Model = model
	cfg.Solver.Stages = stages
	cfg.Solver.Rtol = rtol
	cfg.Solver.Atol = atol
	return cfg
}

func withUnknowns(cfg *Config, unknowns string) *Config {
	cfg.Solver.Unknowns = unknowns
	return cfg
}

func withSpan(cfg *Config, t0, tBound float64) *Config {
	cfg.Span = SpanConfig{T0: t0, TBound: tBound}
	return cfg
}

// GetPreset returns the named profile for a model, or nil when either
// name is unknown.
func GetPreset(model, name string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[name]
	if !ok {
		return nil
	}
	return cfg
}

// ListPresets returns the profile names for a model, sorted.
func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
