// Package validate runs the structural checks between assembly and solving.
// Errors block the solve; warnings ride along with the results.
package validate

import (
	"fmt"
	"math"

	"github.com/ohowland/gridflow/internal/pkg/network"
)

// Plausibility bounds carried over from the source data platform.
const (
	ratioLow       = 0.90
	ratioHigh      = 1.20
	maxInjectionMW = 10000.0
)

// Issue is one checker finding.
type Issue struct {
	Fatal   bool
	Message string
}

// Report collects the checker findings for one network.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// ValidationError wraps a report with fatal findings.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation: %d fatal issues, first: %s", len(e.Issues), e.Issues[0].Message)
}

// Err returns a ValidationError when the report carries fatal findings.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ValidationError{Issues: r.Errors}
}

// Messages flattens the warnings for reporting.
func (r Report) Messages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Message)
	}
	return out
}

func (r *Report) fatal(format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Fatal: true, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Message: fmt.Sprintf(format, args...)})
}

// Check audits the assembled network.
func Check(net *network.Network) Report {
	var report Report

	checkSlackReachability(net, &report)
	checkDuplicateIDs(net, &report)
	checkBranches(net, &report)
	checkInjections(net, &report)
	checkBalance(net, &report)

	return report
}

func checkSlackReachability(net *network.Network, report *Report) {
	slacks := net.BusesOfType(network.Slack)
	if len(slacks) == 0 {
		report.fatal("network has no slack reference")
		return
	}

	reached := net.ConnectivityGraph().Reachable(slacks)
	for i, b := range net.Buses {
		if !reached[i] {
			report.fatal("bus %d unreachable from every slack reference", b.ID)
		}
	}
}

func checkDuplicateIDs(net *network.Network, report *Report) {
	seen := make(map[int]bool, len(net.Buses))
	for _, b := range net.Buses {
		if seen[b.ID] {
			report.fatal("duplicate bus id %d", b.ID)
		}
		seen[b.ID] = true
	}
}

func checkBranches(net *network.Network, report *Report) {
	for _, br := range net.Branches {
		from, to := net.Buses[br.From].ID, net.Buses[br.To].ID
		if br.R == 0 && br.X == 0 {
			report.fatal("branch %d-%d has zero impedance and is not a switch", from, to)
			continue
		}
		if br.IsSwitch {
			report.warn("branch %d-%d is a switch modeled with minimum reactance", from, to)
		}
		if br.RatingMVA == 0 {
			report.warn("branch %d-%d has no thermal rating, loading will not be reported", from, to)
		}
	}
}

func checkInjections(net *network.Network, report *Report) {
	for _, b := range net.Buses {
		for _, v := range []float64{b.Pd, b.Qd, b.Pg, b.Qg, b.VSet} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				report.fatal("bus %d carries a non-finite injection or setpoint", b.ID)
				break
			}
		}
		if p := b.Pg * net.BaseMVA; p > maxInjectionMW {
			report.warn("bus %d generation %.0fMW implausibly large", b.ID, p)
		}
		if p := b.Pd * net.BaseMVA; p > maxInjectionMW {
			report.warn("bus %d load %.0fMW implausibly large", b.ID, p)
		}
	}
}

func checkBalance(net *network.Network, report *Report) {
	var gen, load float64
	for _, b := range net.Buses {
		gen += b.Pg
		load += b.Pd
	}
	if load <= 0 {
		return
	}
	ratio := gen / load
	if ratio < ratioLow || ratio > ratioHigh {
		report.warn("generation/load ratio %.3f outside plausible range [%.2f, %.2f], slack absorbs the difference",
			ratio, ratioLow, ratioHigh)
	}
}
