// Package record defines the raw tabular input records the pipeline consumes.
// Records mirror the intermediate model tables one to one; they carry no
// electrical interpretation beyond field units.
package record

import (
	"fmt"
	"math"
)

// Voltage levels of the modeled transmission system.
const (
	VoltageEHV = 380.0
	VoltageHV  = 220.0
)

// StandardVoltageLevels enumerates the nominal levels a bus may carry.
var StandardVoltageLevels = []float64{VoltageHV, VoltageEHV}

// Bus is a single electrical node of the source model.
type Bus struct {
	ID        int     `csv:"bus_id,omitempty" json:"BusID"`
	VoltageKV float64 `csv:"voltage_kv,omitempty" json:"VoltageKV"`
	Lat       float64 `csv:"lat,omitempty" json:"Lat"`
	Lon       float64 `csv:"lon,omitempty" json:"Lon"`
}

// Line is one physical AC circuit between two buses. Parallel circuits on a
// shared tower appear as separate records or as Circuits > 1.
type Line struct {
	FromBus   int     `csv:"from_bus,omitempty" json:"FromBus"`
	ToBus     int     `csv:"to_bus,omitempty" json:"ToBus"`
	ROhmPerKM float64 `csv:"r_ohm_per_km,omitempty" json:"ROhmPerKM"`
	XOhmPerKM float64 `csv:"x_ohm_per_km,omitempty" json:"XOhmPerKM"`
	CNFPerKM  float64 `csv:"c_nf_per_km,omitempty" json:"CNFPerKM"`
	LengthKM  float64 `csv:"length_km,omitempty" json:"LengthKM"`
	MaxIKA    float64 `csv:"max_i_ka,omitempty" json:"MaxIKA"`
	Circuits  int     `csv:"circuits,omitempty" json:"Circuits"`
	Switch    bool    `csv:"switch,omitempty" json:"Switch"`
}

// Transformer couples the 380kV and 220kV sub-networks. Zero-valued rating
// fields fall back to the configured defaults during assembly.
type Transformer struct {
	HVBus      int     `csv:"hv_bus,omitempty" json:"HVBus"`
	LVBus      int     `csv:"lv_bus,omitempty" json:"LVBus"`
	SnMVA      float64 `csv:"sn_mva,omitempty" json:"SnMVA"`
	VKPercent  float64 `csv:"vk_percent,omitempty" json:"VKPercent"`
	VKRPercent float64 `csv:"vkr_percent,omitempty" json:"VKRPercent"`
	PFEKW      float64 `csv:"pfe_kw,omitempty" json:"PFEKW"`
	I0Percent  float64 `csv:"i0_percent,omitempty" json:"I0Percent"`
	TapRatio   float64 `csv:"tap_ratio,omitempty" json:"TapRatio"`
}

// Generator control modes.
const (
	ControlPV = "pv"
	ControlPQ = "pq"
)

// Generator is a single generating unit before aggregation. Control may be
// left empty, in which case the bus voltage level decides it.
type Generator struct {
	Bus     int     `csv:"bus,omitempty" json:"Bus"`
	Type    string  `csv:"type,omitempty" json:"Type"`
	RatedMW float64 `csv:"rated_mw,omitempty" json:"RatedMW"`
	Control string  `csv:"control,omitempty" json:"Control"`
	VmPU    float64 `csv:"vm_pu,omitempty" json:"VmPU"`
}

// Load is a static demand at a bus. QMvar may be zero in the source data;
// aggregation derives it from the configured power factor.
type Load struct {
	Bus   int     `csv:"bus,omitempty" json:"Bus"`
	PMW   float64 `csv:"p_mw,omitempty" json:"PMW"`
	QMvar float64 `csv:"q_mvar,omitempty" json:"QMvar"`
}

// ExternalGrid is a cross-border tie modeled as a slack reference.
type ExternalGrid struct {
	Bus     int     `csv:"bus,omitempty" json:"Bus"`
	Country string  `csv:"country,omitempty" json:"Country"`
	VmPU    float64 `csv:"vm_pu,omitempty" json:"VmPU"`
}

// Dataset bundles one run's input tables.
type Dataset struct {
	Buses         []Bus
	Lines         []Line
	Transformers  []Transformer
	Generators    []Generator
	Loads         []Load
	ExternalGrids []ExternalGrid
}

// DataIntegrityError reports input data a pipeline stage cannot safely use.
type DataIntegrityError struct {
	Stage  string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s: %s", e.Stage, e.Reason)
}

// NewDataIntegrityError builds a DataIntegrityError for the named stage.
func NewDataIntegrityError(stage, format string, args ...interface{}) *DataIntegrityError {
	return &DataIntegrityError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks a bus record for usable values.
func (b Bus) Validate() error {
	for _, level := range StandardVoltageLevels {
		if b.VoltageKV == level {
			return nil
		}
	}
	return NewDataIntegrityError("record", "bus %d voltage %.1fkV outside standard levels", b.ID, b.VoltageKV)
}

// Validate checks a line record for usable values.
func (l Line) Validate() error {
	if !finite(l.ROhmPerKM, l.XOhmPerKM, l.CNFPerKM, l.LengthKM, l.MaxIKA) {
		return NewDataIntegrityError("record", "line %d-%d carries non-finite parameters", l.FromBus, l.ToBus)
	}
	if l.LengthKM < 0 {
		return NewDataIntegrityError("record", "line %d-%d length %.3fkm negative", l.FromBus, l.ToBus, l.LengthKM)
	}
	if l.ROhmPerKM < 0 || l.XOhmPerKM < 0 {
		return NewDataIntegrityError("record", "line %d-%d negative impedance", l.FromBus, l.ToBus)
	}
	return nil
}

// Validate checks a transformer record for usable values.
func (t Transformer) Validate() error {
	if !finite(t.SnMVA, t.VKPercent, t.VKRPercent, t.PFEKW, t.I0Percent, t.TapRatio) {
		return NewDataIntegrityError("record", "transformer %d-%d carries non-finite parameters", t.HVBus, t.LVBus)
	}
	if t.SnMVA < 0 {
		return NewDataIntegrityError("record", "transformer %d-%d rating %.1fMVA negative", t.HVBus, t.LVBus, t.SnMVA)
	}
	return nil
}

// Validate checks a generator record for usable values.
func (g Generator) Validate() error {
	if !finite(g.RatedMW, g.VmPU) {
		return NewDataIntegrityError("record", "generator at bus %d carries non-finite parameters", g.Bus)
	}
	if g.RatedMW < 0 {
		return NewDataIntegrityError("record", "generator at bus %d rated %.1fMW negative", g.Bus, g.RatedMW)
	}
	switch g.Control {
	case "", ControlPV, ControlPQ:
		return nil
	}
	return NewDataIntegrityError("record", "generator at bus %d control %q unknown", g.Bus, g.Control)
}

// Validate checks a load record for usable values.
func (l Load) Validate() error {
	if !finite(l.PMW, l.QMvar) {
		return NewDataIntegrityError("record", "load at bus %d carries non-finite parameters", l.Bus)
	}
	if l.PMW < 0 {
		return NewDataIntegrityError("record", "load at bus %d demand %.1fMW negative", l.Bus, l.PMW)
	}
	return nil
}

// Validate checks every record in the dataset and returns the first failure.
func (d *Dataset) Validate() error {
	for _, b := range d.Buses {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	for _, l := range d.Lines {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	for _, t := range d.Transformers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, g := range d.Generators {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	for _, l := range d.Loads {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}
