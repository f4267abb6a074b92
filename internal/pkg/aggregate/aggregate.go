// Package aggregate merges parallel network elements into single equivalent
// records. Lines sharing a bus pair combine as parallel admittances,
// generators sharing a bus and control mode combine as summed injections
// with capacity factors applied per constituent, loads lump per bus. Raw
// records are never mutated and output order is deterministic.
package aggregate

import (
	"math"
	"sort"
	"strings"

	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/record"
)

// Generator is the equivalent injection at one bus and control mode.
type Generator struct {
	Bus     int
	Control string
	PMW     float64
	QMvar   float64
	RatedMW float64
	VmPU    float64
	Types   string
	Count   int
}

// Line is the equivalent branch between one bus pair. ROhm/XOhm/BSiemens are
// totals for the combined parallel system, MaxIKA the summed rating current.
type Line struct {
	FromBus  int
	ToBus    int
	ROhm     float64
	XOhm     float64
	BSiemens float64
	LengthKM float64
	MaxIKA   float64
	Switch   bool
	Count    int
}

// Load is the lumped demand at one bus.
type Load struct {
	Bus   int
	PMW   float64
	QMvar float64
	Count int
}

// Result carries the aggregated network elements.
type Result struct {
	Generators []Generator
	Lines      []Line
	Loads      []Load
}

const omega = 2 * math.Pi * 50.0

// TanPhi converts a power factor to the reactive/active power ratio.
func TanPhi(powerFactor float64) float64 {
	return math.Tan(math.Acos(powerFactor))
}

// Aggregate reduces the dataset to equivalent elements under the given
// configuration.
func Aggregate(ds *record.Dataset, cfg config.Config) (Result, error) {
	if err := ds.Validate(); err != nil {
		return Result{}, err
	}

	levels := make(map[int]float64, len(ds.Buses))
	for _, b := range ds.Buses {
		levels[b.ID] = b.VoltageKV
	}

	gens := mergeGenerators(ds.Generators, levels, cfg)
	lines := mergeLines(ds.Lines)
	loads := mergeLoads(ds.Loads, cfg)

	return Result{Generators: gens, Lines: lines, Loads: loads}, nil
}

// controlMode resolves a generator's control: the record wins, otherwise the
// bus voltage level decides (380kV holds voltage, 220kV holds power).
func controlMode(g record.Generator, levels map[int]float64) string {
	if g.Control != "" {
		return g.Control
	}
	if levels[g.Bus] == record.VoltageEHV {
		return record.ControlPV
	}
	return record.ControlPQ
}

type genKey struct {
	bus     int
	control string
}

func mergeGenerators(gens []record.Generator, levels map[int]float64, cfg config.Config) []Generator {
	tanPhi := TanPhi(cfg.PowerFactor)

	groups := make(map[genKey]*Generator)
	vmSums := make(map[genKey]float64)
	typeSets := make(map[genKey]map[string]bool)

	for _, g := range gens {
		key := genKey{bus: g.Bus, control: controlMode(g, levels)}
		agg, ok := groups[key]
		if !ok {
			agg = &Generator{Bus: key.bus, Control: key.control}
			groups[key] = agg
			typeSets[key] = make(map[string]bool)
		}

		p := g.RatedMW * cfg.Factor(g.Type) * cfg.GenerationScale
		agg.PMW += p
		agg.RatedMW += g.RatedMW
		if key.control == record.ControlPQ {
			agg.QMvar += p * tanPhi
		}

		vm := g.VmPU
		if vm == 0 {
			vm = cfg.PVSetpointPU
		}
		vmSums[key] += vm
		agg.Count++
		typeSets[key][strings.ToLower(strings.TrimSpace(g.Type))] = true
	}

	out := make([]Generator, 0, len(groups))
	for key, agg := range groups {
		agg.VmPU = vmSums[key] / float64(agg.Count)
		agg.Types = joinSorted(typeSets[key])
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bus != out[j].Bus {
			return out[i].Bus < out[j].Bus
		}
		return out[i].Control < out[j].Control
	})
	return out
}

func joinSorted(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

type lineKey struct {
	lo, hi int
}

func normalizePair(a, b int) lineKey {
	if a <= b {
		return lineKey{a, b}
	}
	return lineKey{b, a}
}

func mergeLines(lines []record.Line) []Line {
	type group struct {
		ySum        complex128
		switchShort bool
		faultShort  bool
		bSum        float64
		lengthMax   float64
		currentSum  float64
		count       int
	}

	groups := make(map[lineKey]*group)
	for _, l := range lines {
		key := normalizePair(l.FromBus, l.ToBus)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}

		circuits := l.Circuits
		if circuits < 1 {
			circuits = 1
		}
		n := float64(circuits)

		r := l.ROhmPerKM * l.LengthKM
		x := l.XOhmPerKM * l.LengthKM
		if r == 0 && x == 0 {
			// a zero-impedance constituent shorts the whole group
			if l.Switch {
				g.switchShort = true
			} else {
				g.faultShort = true
			}
		} else {
			g.ySum += complex(n, 0) / complex(r, x)
		}

		g.bSum += omega * l.CNFPerKM * 1e-9 * l.LengthKM * n
		if l.LengthKM > g.lengthMax {
			g.lengthMax = l.LengthKM
		}
		g.currentSum += l.MaxIKA * n
		g.count += circuits
	}

	out := make([]Line, 0, len(groups))
	for key, g := range groups {
		eq := Line{
			FromBus:  key.lo,
			ToBus:    key.hi,
			BSiemens: g.bSum,
			LengthKM: g.lengthMax,
			MaxIKA:   g.currentSum,
			Count:    g.count,
		}
		if g.switchShort || g.faultShort {
			eq.Switch = g.switchShort && !g.faultShort
		} else {
			z := complex(1, 0) / g.ySum
			eq.ROhm = real(z)
			eq.XOhm = imag(z)
		}
		out = append(out, eq)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromBus != out[j].FromBus {
			return out[i].FromBus < out[j].FromBus
		}
		return out[i].ToBus < out[j].ToBus
	})
	return out
}

func mergeLoads(loads []record.Load, cfg config.Config) []Load {
	tanPhi := TanPhi(cfg.PowerFactor)

	groups := make(map[int]*Load)
	for _, l := range loads {
		agg, ok := groups[l.Bus]
		if !ok {
			agg = &Load{Bus: l.Bus}
			groups[l.Bus] = agg
		}
		q := l.QMvar
		if q == 0 {
			q = l.PMW * tanPhi
		}
		agg.PMW += l.PMW * cfg.LoadScale
		agg.QMvar += q * cfg.LoadScale
		agg.Count++
	}

	out := make([]Load, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bus < out[j].Bus })
	return out
}

// TotalGenerationMW sums aggregated generator active power.
func (r Result) TotalGenerationMW() float64 {
	var total float64
	for _, g := range r.Generators {
		total += g.PMW
	}
	return total
}

// TotalLoadMW sums aggregated load active power.
func (r Result) TotalLoadMW() float64 {
	var total float64
	for _, l := range r.Loads {
		total += l.PMW
	}
	return total
}
