package network

import (
	"log"
	"math"
	"sort"

	"github.com/ohowland/gridflow/internal/pkg/aggregate"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/record"
)

// minSwitchX substitutes zero-impedance switch branches so the admittance
// matrix stays finite.
const minSwitchX = 1e-6

// Assemble converts aggregated, balanced records into the per-unit model.
// DC interconnectors present in the data are modeled as plain AC branches;
// this mirrors the source data platform and is a known limitation.
func Assemble(ds *record.Dataset, agg aggregate.Result, cfg config.Config) (*Network, error) {
	buses, index, err := assembleBuses(ds)
	if err != nil {
		return nil, err
	}

	if err := applyLoads(buses, index, agg.Loads, cfg); err != nil {
		return nil, err
	}
	if err := applyGenerators(buses, index, agg.Generators, cfg); err != nil {
		return nil, err
	}

	branches, err := assembleBranches(buses, index, agg.Lines, ds.Transformers, cfg)
	if err != nil {
		return nil, err
	}

	if err := applySlacks(buses, index, branches, ds.ExternalGrids, cfg); err != nil {
		return nil, err
	}

	net, err := New(cfg.BaseMVA, buses, branches)
	if err != nil {
		return nil, err
	}

	if err := checkIslands(net); err != nil {
		return nil, err
	}
	return net, nil
}

func assembleBuses(ds *record.Dataset) ([]Bus, map[int]int, error) {
	sorted := make([]record.Bus, len(ds.Buses))
	copy(sorted, ds.Buses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	buses := make([]Bus, 0, len(sorted))
	index := make(map[int]int, len(sorted))
	for _, b := range sorted {
		if _, exists := index[b.ID]; exists {
			return nil, nil, NewTopologyError("duplicate bus id %d", b.ID)
		}
		index[b.ID] = len(buses)
		buses = append(buses, Bus{
			ID:        b.ID,
			VoltageKV: b.VoltageKV,
			Type:      PQ,
			VSet:      1.0,
			Lat:       b.Lat,
			Lon:       b.Lon,
		})
	}
	return buses, index, nil
}

func applyLoads(buses []Bus, index map[int]int, loads []aggregate.Load, cfg config.Config) error {
	for _, l := range loads {
		i, ok := index[l.Bus]
		if !ok {
			return NewTopologyError("load references missing bus %d", l.Bus)
		}
		buses[i].Pd += l.PMW / cfg.BaseMVA
		buses[i].Qd += l.QMvar / cfg.BaseMVA
	}
	return nil
}

func applyGenerators(buses []Bus, index map[int]int, gens []aggregate.Generator, cfg config.Config) error {
	for _, g := range gens {
		i, ok := index[g.Bus]
		if !ok {
			return NewTopologyError("generator references missing bus %d", g.Bus)
		}
		buses[i].Pg += g.PMW / cfg.BaseMVA
		if g.Control == record.ControlPV {
			buses[i].Type = PV
			buses[i].VSet = g.VmPU
		} else {
			buses[i].Qg += g.QMvar / cfg.BaseMVA
		}
	}
	return nil
}

func assembleBranches(buses []Bus, index map[int]int, lines []aggregate.Line, trafos []record.Transformer, cfg config.Config) ([]Branch, error) {
	branches := make([]Branch, 0, len(lines)+len(trafos))

	for _, l := range lines {
		f, ok := index[l.FromBus]
		if !ok {
			return nil, NewTopologyError("line %d-%d references missing bus %d", l.FromBus, l.ToBus, l.FromBus)
		}
		t, ok := index[l.ToBus]
		if !ok {
			return nil, NewTopologyError("line %d-%d references missing bus %d", l.FromBus, l.ToBus, l.ToBus)
		}
		kv := buses[f].VoltageKV
		if kv != buses[t].VoltageKV {
			return nil, NewTopologyError("line %d-%d joins voltage levels %.0fkV and %.0fkV",
				l.FromBus, l.ToBus, kv, buses[t].VoltageKV)
		}

		zBase := kv * kv / cfg.BaseMVA
		br := Branch{
			From:      f,
			To:        t,
			R:         l.ROhm / zBase,
			X:         l.XOhm / zBase,
			B:         l.BSiemens * zBase,
			Tap:       1.0,
			RatingMVA: math.Sqrt(3) * kv * l.MaxIKA,
			Kind:      KindLine,
			IsSwitch:  l.Switch,
			Count:     l.Count,
			LengthKM:  l.LengthKM,
		}
		if br.R == 0 && br.X == 0 && l.Switch {
			br.X = minSwitchX
			log.Printf("[Assembler] switch %d-%d substituted with minimum reactance", l.FromBus, l.ToBus)
		}
		branches = append(branches, br)
	}

	for _, tr := range trafos {
		hv, ok := index[tr.HVBus]
		if !ok {
			return nil, NewTopologyError("transformer %d-%d references missing bus %d", tr.HVBus, tr.LVBus, tr.HVBus)
		}
		lv, ok := index[tr.LVBus]
		if !ok {
			return nil, NewTopologyError("transformer %d-%d references missing bus %d", tr.HVBus, tr.LVBus, tr.LVBus)
		}
		if buses[hv].VoltageKV <= buses[lv].VoltageKV {
			return nil, NewTopologyError("transformer %d-%d high side %.0fkV not above low side %.0fkV",
				tr.HVBus, tr.LVBus, buses[hv].VoltageKV, buses[lv].VoltageKV)
		}

		br, err := transformerBranch(tr, hv, lv, cfg)
		if err != nil {
			return nil, err
		}
		branches = append(branches, br)
	}
	return branches, nil
}

// transformerBranch converts the short-circuit parameterization (vk, vkr on
// the unit's own rating) to series per-unit impedance on the system base,
// with the magnetizing shunt from pfe/i0 attached at the hv side.
func transformerBranch(tr record.Transformer, hv, lv int, cfg config.Config) (Branch, error) {
	sn := tr.SnMVA
	if sn == 0 {
		sn = cfg.Transformer.SnMVA
	}
	vk := tr.VKPercent
	if vk == 0 {
		vk = cfg.Transformer.VKPercent
	}
	vkr := tr.VKRPercent
	if vkr == 0 {
		vkr = cfg.Transformer.VKRPercent
	}
	pfe := tr.PFEKW
	if pfe == 0 {
		pfe = cfg.Transformer.PFEKW
	}
	i0 := tr.I0Percent
	if i0 == 0 {
		i0 = cfg.Transformer.I0Percent
	}
	tap := tr.TapRatio
	if tap == 0 {
		tap = 1.0
	}

	rebase := cfg.BaseMVA / sn
	zk := vk / 100 * rebase
	rk := vkr / 100 * rebase
	if rk >= zk {
		return Branch{}, NewTopologyError("transformer %d-%d resistive drop %.2f%% not below short-circuit voltage %.2f%%",
			tr.HVBus, tr.LVBus, vkr, vk)
	}
	xk := math.Sqrt(zk*zk - rk*rk)

	g := pfe / 1000 / cfg.BaseMVA
	ym := i0 / 100 * sn / cfg.BaseMVA
	var bm float64
	if ym > g {
		bm = -math.Sqrt(ym*ym - g*g)
	}

	return Branch{
		From:      hv,
		To:        lv,
		R:         rk,
		X:         xk,
		Tap:       tap,
		GShunt:    g,
		BShunt:    bm,
		RatingMVA: sn,
		Kind:      KindTransformer,
		Count:     1,
	}, nil
}

func applySlacks(buses []Bus, index map[int]int, branches []Branch, grids []record.ExternalGrid, cfg config.Config) error {
	if len(grids) == 0 {
		i := selectSlackBus(buses, branches, cfg)
		if i < 0 {
			return NewTopologyError("no bus available for the synthetic slack reference")
		}
		markSlack(buses, i, cfg.Slack.VmPU, "auto")
		log.Printf("[Assembler] no external grids, synthetic slack at bus %d", buses[i].ID)
		return nil
	}

	for _, gr := range grids {
		i, ok := index[gr.Bus]
		if !ok {
			return NewTopologyError("external grid %q references missing bus %d", gr.Country, gr.Bus)
		}
		if buses[i].Type == Slack {
			log.Printf("[Assembler] bus %d already a slack reference, skipping external grid %q", gr.Bus, gr.Country)
			continue
		}
		vm := gr.VmPU
		if vm == 0 {
			vm = cfg.Slack.VmPU
		}
		markSlack(buses, i, vm, gr.Country)
	}
	return nil
}

func markSlack(buses []Bus, i int, vm float64, country string) {
	if buses[i].Type == PV && buses[i].VSet != vm {
		log.Printf("[Assembler] bus %d voltage setpoint %.3fpu ceded to slack reference %.3fpu",
			buses[i].ID, buses[i].VSet, vm)
	}
	buses[i].Type = Slack
	buses[i].VSet = vm
	buses[i].Va = 0
	buses[i].Country = country
}

// selectSlackBus picks the 380kV bus with the highest connectivity, breaking
// ties by distance to the configured geographic reference, then by id.
func selectSlackBus(buses []Bus, branches []Branch, cfg config.Config) int {
	degree := make(map[int]int)
	for _, br := range branches {
		degree[br.From]++
		degree[br.To]++
	}

	best := -1
	for i, b := range buses {
		if b.VoltageKV != record.VoltageEHV {
			continue
		}
		if best < 0 || slackBetter(buses, degree, i, best, cfg) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}

	// no 380kV buses in the dataset; fall back to any highest-degree bus
	for i := range buses {
		if best < 0 || slackBetter(buses, degree, i, best, cfg) {
			best = i
		}
	}
	return best
}

func slackBetter(buses []Bus, degree map[int]int, candidate, incumbent int, cfg config.Config) bool {
	if degree[candidate] != degree[incumbent] {
		return degree[candidate] > degree[incumbent]
	}
	dc := referenceDistance(buses[candidate], cfg)
	di := referenceDistance(buses[incumbent], cfg)
	if dc != di {
		return dc < di
	}
	return buses[candidate].ID < buses[incumbent].ID
}

func referenceDistance(b Bus, cfg config.Config) float64 {
	dLat := b.Lat - cfg.Slack.Lat
	dLon := b.Lon - cfg.Slack.Lon
	return dLat*dLat + dLon*dLon
}

func checkIslands(net *Network) error {
	slackSet := make(map[int]bool)
	for _, i := range net.BusesOfType(Slack) {
		slackSet[i] = true
	}

	for _, component := range net.ConnectivityGraph().Components() {
		hasSlack := false
		for _, i := range component {
			if slackSet[i] {
				hasSlack = true
				break
			}
		}
		if !hasSlack {
			ids := make([]int, 0, len(component))
			for _, i := range component {
				ids = append(ids, net.Buses[i].ID)
				if len(ids) == 5 {
					break
				}
			}
			return NewTopologyError("island of %d buses has no slack reference (buses %v)", len(component), ids)
		}
	}
	return nil
}
