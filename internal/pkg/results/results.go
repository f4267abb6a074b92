// Package results extracts engineering quantities from a converged network:
// bus voltages, branch flows and losses, interconnector exchanges, and the
// run summary. All quantities are converted from per-unit to MW/Mvar on the
// network base.
package results

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/ohowland/gridflow/internal/pkg/network"
)

// directionThreshold separates a real exchange from numerical noise.
const directionThreshold = 1e-6

// Bus is one row of the bus result table.
type Bus struct {
	BusID     int     `csv:"bus_id" json:"bus_id"`
	VoltageKV float64 `csv:"voltage_kv" json:"voltage_kv"`
	VmPU      float64 `csv:"vm_pu" json:"vm_pu"`
	VaDeg     float64 `csv:"va_deg" json:"va_deg"`
	Lat       float64 `csv:"lat" json:"lat"`
	Lon       float64 `csv:"lon" json:"lon"`
}

// Flow is one row of the branch result tables, used for both lines and
// transformers. Positive powers flow into the branch at that end.
type Flow struct {
	FromBus        int     `csv:"from_bus" json:"from_bus"`
	ToBus          int     `csv:"to_bus" json:"to_bus"`
	PFromMW        float64 `csv:"p_from_mw" json:"p_from_mw"`
	QFromMvar      float64 `csv:"q_from_mvar" json:"q_from_mvar"`
	PToMW          float64 `csv:"p_to_mw" json:"p_to_mw"`
	QToMvar        float64 `csv:"q_to_mvar" json:"q_to_mvar"`
	LoadingPercent float64 `csv:"loading_percent" json:"loading_percent"`
	LossMW         float64 `csv:"loss_mw" json:"loss_mw"`
}

// Exchange is the power transfer with one external grid, positive when the
// modeled network exports to the neighbor.
type Exchange struct {
	Bus        int     `csv:"bus" json:"bus"`
	Country    string  `csv:"country" json:"country"`
	ExchangeMW float64 `csv:"exchange_mw" json:"exchange_mw"`
	Direction  string  `csv:"direction" json:"direction"`
}

// Summary condenses one run. Scenario is stamped by the pipeline with the
// study name the run was made under.
type Summary struct {
	Scenario          string   `json:"scenario"`
	Converged         bool     `json:"converged"`
	Strategy          string   `json:"strategy"`
	Iterations        int      `json:"iterations"`
	TotalGenerationMW float64  `json:"total_generation_mw"`
	TotalLoadMW       float64  `json:"total_load_mw"`
	TotalLossMW       float64  `json:"total_loss_mw"`
	Warnings          []string `json:"warnings"`
}

// Results is the full report of one converged run.
type Results struct {
	Buses        []Bus      `json:"buses"`
	Lines        []Flow     `json:"lines"`
	Transformers []Flow     `json:"transformers"`
	Exchanges    []Exchange `json:"exchanges"`
	Summary      Summary    `json:"summary"`
}

// Extract reports on a solved network. It refuses an unconverged network;
// callers must check the solve outcome first.
func Extract(net *network.Network, warnings []string) (*Results, error) {
	if !net.Outcome.Converged {
		return nil, fmt.Errorf("results: network holds no converged solution")
	}

	v := make([]complex128, len(net.Buses))
	for i, b := range net.Buses {
		v[i] = cmplx.Rect(b.Vm, b.Va)
	}

	res := &Results{}
	totalLoadMW := 0.0
	for _, b := range net.Buses {
		res.Buses = append(res.Buses, Bus{
			BusID:     b.ID,
			VoltageKV: b.VoltageKV,
			VmPU:      b.Vm,
			VaDeg:     b.Va * 180 / math.Pi,
			Lat:       b.Lat,
			Lon:       b.Lon,
		})
		totalLoadMW += b.Pd * net.BaseMVA
	}

	totalLossMW := 0.0
	for _, br := range net.Branches {
		flow := branchFlow(br, v[br.From], v[br.To], net)
		totalLossMW += flow.LossMW
		switch br.Kind {
		case network.KindTransformer:
			res.Transformers = append(res.Transformers, flow)
		default:
			res.Lines = append(res.Lines, flow)
		}
	}

	inj := network.Injections(net.Ybus(), v)
	for i, b := range net.Buses {
		if b.Type != network.Slack {
			continue
		}
		supplied := real(inj[i]) - (b.Pg - b.Pd)
		ex := Exchange{
			Bus:        b.ID,
			Country:    b.Country,
			ExchangeMW: -supplied * net.BaseMVA,
		}
		switch {
		case ex.ExchangeMW > directionThreshold:
			ex.Direction = "export"
		case ex.ExchangeMW < -directionThreshold:
			ex.Direction = "import"
		default:
			ex.Direction = "balanced"
		}
		res.Exchanges = append(res.Exchanges, ex)
	}

	res.Summary = Summary{
		Converged:         true,
		Strategy:          net.Outcome.Strategy,
		Iterations:        net.Outcome.Iterations,
		TotalGenerationMW: totalLoadMW + totalLossMW,
		TotalLoadMW:       totalLoadMW,
		TotalLossMW:       totalLossMW,
		Warnings:          warnings,
	}
	return res, nil
}

// branchFlow evaluates both end powers of one branch from the solved
// voltages, using the same admittance model the network matrix is built
// from so that flows and injections agree.
func branchFlow(br network.Branch, vf, vt complex128, net *network.Network) Flow {
	ys := complex(1, 0) / complex(br.R, br.X)
	sh := complex(0, br.B/2)
	tap := complex(br.Tap, 0)
	if br.Tap == 0 {
		tap = 1
	}

	yff := (ys+sh)/(tap*tap) + complex(br.GShunt, br.BShunt)
	yft := -ys / tap
	ytt := ys + sh

	sf := vf * cmplx.Conj(yff*vf+yft*vt)
	st := vt * cmplx.Conj(yft*vf+ytt*vt)

	flow := Flow{
		FromBus:   net.Buses[br.From].ID,
		ToBus:     net.Buses[br.To].ID,
		PFromMW:   real(sf) * net.BaseMVA,
		QFromMvar: imag(sf) * net.BaseMVA,
		PToMW:     real(st) * net.BaseMVA,
		QToMvar:   imag(st) * net.BaseMVA,
		LossMW:    (real(sf) + real(st)) * net.BaseMVA,
	}
	if br.RatingMVA > 0 {
		loaded := math.Max(cmplx.Abs(sf), cmplx.Abs(st)) * net.BaseMVA
		flow.LoadingPercent = loaded / br.RatingMVA * 100
	}
	return flow
}
