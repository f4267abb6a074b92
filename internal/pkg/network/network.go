// Package network holds the per-unit electrical model the solver operates
// on: typed buses, branches with tap and shunt handling, and the admittance
// matrix assembly.
package network

import (
	"fmt"
	"math/cmplx"
)

// BusType classifies a bus for the power-flow formulation.
type BusType int

const (
	// PQ buses hold active and reactive injection fixed.
	PQ BusType = iota
	// PV buses hold active injection and voltage magnitude fixed.
	PV
	// Slack buses hold voltage magnitude and angle fixed.
	Slack
)

func (t BusType) String() string {
	switch t {
	case PV:
		return "pv"
	case Slack:
		return "slack"
	default:
		return "pq"
	}
}

// Bus is one node of the per-unit model. Injections and demands are in
// per-unit on the network base; Va is in radians.
type Bus struct {
	ID        int
	VoltageKV float64
	Type      BusType
	Pd, Qd    float64
	Pg, Qg    float64
	VSet      float64
	Vm, Va    float64
	Lat, Lon  float64
	Country   string
}

// BranchKind separates lines from transformers for reporting.
type BranchKind int

const (
	KindLine BranchKind = iota
	KindTransformer
)

// Branch is one series element between two bus indices. R, X and the total
// charging B are per-unit; Tap is the off-nominal ratio applied at the From
// (hv) side; GShunt/BShunt model transformer magnetizing at the From bus.
type Branch struct {
	From, To  int
	R, X, B   float64
	Tap       float64
	GShunt    float64
	BShunt    float64
	RatingMVA float64
	Kind      BranchKind
	IsSwitch  bool
	Count     int
	LengthKM  float64
}

// Outcome records how a solve ended.
type Outcome struct {
	Converged  bool
	Strategy   string
	Iterations int
}

// Network is the assembled model, owned by a single run.
type Network struct {
	BaseMVA  float64
	Buses    []Bus
	Branches []Branch
	Outcome  Outcome

	index map[int]int
}

// New builds a network over the given buses and branches. Bus ids must be
// unique; branch endpoints are indices into the bus slice.
func New(baseMVA float64, buses []Bus, branches []Branch) (*Network, error) {
	index := make(map[int]int, len(buses))
	for i, b := range buses {
		if _, exists := index[b.ID]; exists {
			return nil, NewTopologyError("duplicate bus id %d", b.ID)
		}
		index[b.ID] = i
	}
	for _, br := range branches {
		if br.From < 0 || br.From >= len(buses) || br.To < 0 || br.To >= len(buses) {
			return nil, NewTopologyError("branch endpoint index out of range (%d-%d)", br.From, br.To)
		}
	}
	return &Network{BaseMVA: baseMVA, Buses: buses, Branches: branches, index: index}, nil
}

// Index resolves a bus id to its slice position.
func (n *Network) Index(busID int) (int, bool) {
	i, ok := n.index[busID]
	return i, ok
}

// BusesOfType returns the slice positions of all buses of the given type,
// in ascending order.
func (n *Network) BusesOfType(t BusType) []int {
	out := make([]int, 0)
	for i, b := range n.Buses {
		if b.Type == t {
			out = append(out, i)
		}
	}
	return out
}

// Ybus assembles the complex nodal admittance matrix.
func (n *Network) Ybus() [][]complex128 {
	size := len(n.Buses)
	y := make([][]complex128, size)
	for i := range y {
		y[i] = make([]complex128, size)
	}

	for _, br := range n.Branches {
		ys := complex(1, 0) / complex(br.R, br.X)
		sh := complex(0, br.B/2)
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		t := complex(tap, 0)

		f, to := br.From, br.To
		y[f][f] += (ys+sh)/(t*t) + complex(br.GShunt, br.BShunt)
		y[to][to] += ys + sh
		y[f][to] -= ys / t
		y[to][f] -= ys / t
	}
	return y
}

// Injections computes the complex nodal power injections S = V .* conj(Y V)
// for the given voltage vector.
func Injections(ybus [][]complex128, v []complex128) []complex128 {
	s := make([]complex128, len(v))
	for i := range v {
		var sum complex128
		for k, yik := range ybus[i] {
			sum += yik * v[k]
		}
		s[i] = v[i] * cmplx.Conj(sum)
	}
	return s
}

// ScheduledInjection returns the specified net injection (generation minus
// demand) at a bus in per-unit.
func (n *Network) ScheduledInjection(i int) (p, q float64) {
	b := n.Buses[i]
	return b.Pg - b.Pd, b.Qg - b.Qd
}

// FlatStart returns the initial voltage vector: setpoint magnitudes on
// slack and PV buses, 1.0 pu elsewhere, zero angles everywhere.
func (n *Network) FlatStart() []complex128 {
	v := make([]complex128, len(n.Buses))
	for i, b := range n.Buses {
		switch b.Type {
		case Slack, PV:
			v[i] = complex(b.VSet, 0)
		default:
			v[i] = complex(1, 0)
		}
	}
	return v
}

// TopologyError reports a structurally unsolvable network.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: %s", e.Reason)
}

// NewTopologyError builds a TopologyError.
func NewTopologyError(format string, args ...interface{}) *TopologyError {
	return &TopologyError{Reason: fmt.Sprintf(format, args...)}
}
