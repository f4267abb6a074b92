// Package config carries the study configuration consumed by the pipeline.
// A study file is JSON; absent fields keep the defaults, which mirror the
// operating assumptions of the upstream data platform.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
)

// Solver method identifiers accepted in a strategy sequence.
const (
	MethodNewton      = "nr"
	MethodGaussSeidel = "gs"
	MethodDCInit      = "dc"
)

// Strategy configures one attempt of the solver fallback chain.
type Strategy struct {
	Method       string  `json:"Method"`
	MaxIteration int     `json:"MaxIteration"`
	ToleranceMVA float64 `json:"ToleranceMVA"`
}

// Balance configures the generation/load balancing stage.
type Balance struct {
	TargetRatio      float64 `json:"TargetRatio"`
	MaxScalingFactor float64 `json:"MaxScalingFactor"`
	GeneratorCeiling float64 `json:"GeneratorCeiling"`
}

// Slack locates the synthetic slack reference used when the dataset carries
// no external grid records, and fixes the slack voltage setpoint.
type Slack struct {
	Lat  float64 `json:"Lat"`
	Lon  float64 `json:"Lon"`
	VmPU float64 `json:"VmPU"`
}

// Transformer holds rating defaults applied to records with zero-valued
// parameters.
type Transformer struct {
	SnMVA      float64 `json:"SnMVA"`
	VKPercent  float64 `json:"VKPercent"`
	VKRPercent float64 `json:"VKRPercent"`
	PFEKW      float64 `json:"PFEKW"`
	I0Percent  float64 `json:"I0Percent"`
}

// Data locates the input tables.
type Data struct {
	Dir string `json:"Dir"`
}

// Export locates the result output directory and sets the overload reporting
// threshold in percent.
type Export struct {
	Dir               string  `json:"Dir"`
	OverloadThreshold float64 `json:"OverloadThreshold"`
}

// Archive configures the MongoDB result archive. An empty URI disables it.
type Archive struct {
	URI      string `json:"URI"`
	Port     string `json:"Port"`
	Database string `json:"Database"`
}

// Stream configures the NATS progress stream. An empty server disables it.
type Stream struct {
	Server string `json:"Server"`
}

// Store configures the Postgres result store backing the webservice. An
// empty host disables it.
type Store struct {
	Host     string `json:"Host"`
	Port     int    `json:"Port"`
	User     string `json:"User"`
	Password string `json:"Password"`
	Database string `json:"Database"`
}

// Remote configures the HTTP push of finished runs to a results service. An
// empty URL disables it.
type Remote struct {
	URL string `json:"URL"`
}

// Scenario overrides study parameters for a named variant. Zero values keep
// the base configuration.
type Scenario struct {
	CapacityFactors map[string]float64 `json:"CapacityFactors"`
	GenerationScale float64            `json:"GenerationScale"`
	LoadScale       float64            `json:"LoadScale"`
	TargetRatio     float64            `json:"TargetRatio"`
}

// Config is the immutable study configuration handed to the pipeline entry
// point.
type Config struct {
	Name                  string              `json:"Name"`
	BaseMVA               float64             `json:"BaseMVA"`
	PowerFactor           float64             `json:"PowerFactor"`
	GenerationScale       float64             `json:"GenerationScale"`
	LoadScale             float64             `json:"LoadScale"`
	PVSetpointPU          float64             `json:"PVSetpointPU"`
	CapacityFactors       map[string]float64  `json:"CapacityFactors"`
	DefaultCapacityFactor float64             `json:"DefaultCapacityFactor"`
	Balance               Balance             `json:"Balance"`
	Sequence              []Strategy          `json:"Sequence"`
	Slack                 Slack               `json:"Slack"`
	Transformer           Transformer         `json:"Transformer"`
	Data                  Data                `json:"Data"`
	Export                Export              `json:"Export"`
	Archive               Archive             `json:"Archive"`
	Stream                Stream              `json:"Stream"`
	Store                 Store               `json:"Store"`
	Remote                Remote              `json:"Remote"`
	Scenarios             map[string]Scenario `json:"Scenarios"`
}

// Default returns the baseline study configuration.
func Default() Config {
	return Config{
		Name:            "de-transmission",
		BaseMVA:         100.0,
		PowerFactor:     0.98,
		GenerationScale: 0.5,
		LoadScale:       1.0,
		PVSetpointPU:    1.0,
		CapacityFactors: map[string]float64{
			"wind_offshore":        0.5,
			"wind_onshore":         0.3,
			"solar_radiant_energy": 0.3,
			"water":                0.401,
			"biomass":              0.497,
			"natural_gas":          0.620,
			"petroleum_products":   0.200,
			"other_gases":          0.600,
			"warmth":               0.675,
			"non_biogenic_waste":   0.725,
			"storage":              0.150,
			"wind":                 0.30,
			"solar":                0.15,
			"hydro":                0.40,
			"gas":                  0.60,
		},
		DefaultCapacityFactor: 0.50,
		Balance: Balance{
			TargetRatio:      1.15,
			MaxScalingFactor: 10.0,
			GeneratorCeiling: 1.0,
		},
		Sequence: []Strategy{
			{Method: MethodNewton, MaxIteration: 100, ToleranceMVA: 1e-3},
			{Method: MethodGaussSeidel, MaxIteration: 500, ToleranceMVA: 1e-2},
			{Method: MethodDCInit, MaxIteration: 100, ToleranceMVA: 1e-2},
		},
		Slack: Slack{Lat: 50.1, Lon: 8.7, VmPU: 1.0},
		Transformer: Transformer{
			SnMVA:      600.0,
			VKPercent:  12.5,
			VKRPercent: 0.35,
			PFEKW:      60.0,
			I0Percent:  0.1,
		},
		Data:   Data{Dir: "./data"},
		Export: Export{Dir: "./results", OverloadThreshold: 100.0},
	}
}

// Load reads a study file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify rejects configurations the pipeline cannot run with.
func (c Config) Verify() error {
	if c.BaseMVA <= 0 {
		return fmt.Errorf("config: base %.1fMVA must be positive", c.BaseMVA)
	}
	if c.PowerFactor <= 0 || c.PowerFactor > 1 {
		return fmt.Errorf("config: power factor %.3f outside (0, 1]", c.PowerFactor)
	}
	if len(c.Sequence) == 0 {
		return fmt.Errorf("config: empty solver sequence")
	}
	for _, s := range c.Sequence {
		switch s.Method {
		case MethodNewton, MethodGaussSeidel, MethodDCInit:
		default:
			return fmt.Errorf("config: unknown solver method %q", s.Method)
		}
		if s.MaxIteration <= 0 {
			return fmt.Errorf("config: method %q iteration cap %d must be positive", s.Method, s.MaxIteration)
		}
		if s.ToleranceMVA <= 0 {
			return fmt.Errorf("config: method %q tolerance %.2eMVA must be positive", s.Method, s.ToleranceMVA)
		}
	}
	return nil
}

// Factor resolves the capacity factor for a generator type: exact match
// first, then the longest type key contained in the name, then the default.
func (c Config) Factor(genType string) float64 {
	name := strings.ToLower(strings.TrimSpace(genType))
	if f, ok := c.CapacityFactors[name]; ok {
		return f
	}

	keys := make([]string, 0, len(c.CapacityFactors))
	for k := range c.CapacityFactors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if strings.Contains(name, k) {
			return c.CapacityFactors[k]
		}
	}
	return c.DefaultCapacityFactor
}

// ApplyScenario derives a configuration with the named scenario's overrides
// applied. An empty name returns the receiver unchanged.
func (c Config) ApplyScenario(name string) (Config, error) {
	if name == "" {
		return c, nil
	}
	sc, ok := c.Scenarios[name]
	if !ok {
		return Config{}, fmt.Errorf("config: scenario %q not defined", name)
	}

	derived := c
	derived.Name = c.Name + "-" + name
	if sc.GenerationScale > 0 {
		derived.GenerationScale = sc.GenerationScale
	}
	if sc.LoadScale > 0 {
		derived.LoadScale = sc.LoadScale
	}
	if sc.TargetRatio > 0 {
		derived.Balance.TargetRatio = sc.TargetRatio
	}
	if len(sc.CapacityFactors) > 0 {
		merged := make(map[string]float64, len(c.CapacityFactors))
		for k, v := range c.CapacityFactors {
			merged[k] = v
		}
		for k, v := range sc.CapacityFactors {
			merged[k] = v
		}
		derived.CapacityFactors = merged
	}
	return derived, nil
}
