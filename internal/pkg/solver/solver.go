// Package solver drives the power-flow fallback chain: Newton-Raphson for
// speed, Gauss-Seidel as the robust recovery, and a DC-linearized solve
// seeding a final Newton attempt. Every strategy iterates on the full AC
// mismatch equations; convergence is the maximum absolute bus power
// mismatch falling below the strategy's tolerance.
package solver

import (
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"strings"
	"time"

	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/network"
)

// divergeGuard bails a strategy out early once the mismatch leaves any
// plausible region.
const divergeGuard = 1e6

// Attempt records one strategy's run for the diagnostic trail.
type Attempt struct {
	Strategy       string
	Iterations     int
	MaxMismatchMVA float64
	Converged      bool
	Elapsed        time.Duration
}

// Solution is the converged per-unit state.
type Solution struct {
	Vm         []float64
	Va         []float64
	Strategy   string
	Iterations int
	Attempts   []Attempt
}

// Divergence is the terminal failure after every strategy is exhausted.
type Divergence struct {
	Attempts []Attempt
}

func (e *Divergence) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, fmt.Sprintf("%s(%d iterations, %.3eMVA)", a.Strategy, a.Iterations, a.MaxMismatchMVA))
	}
	return fmt.Sprintf("numerical divergence: %d strategies exhausted: %s", len(e.Attempts), strings.Join(names, ", "))
}

// result is one strategy's raw outcome in per-unit.
type result struct {
	v           []complex128
	iterations  int
	maxMismatch float64
	converged   bool
}

// Solve runs the configured strategy sequence against the network. The
// network's bus voltages and outcome are written only on convergence; a
// failed run leaves the network untouched and returns a *Divergence.
func Solve(net *network.Network, cfg config.Config) (*Solution, error) {
	if len(net.BusesOfType(network.Slack)) == 0 {
		return nil, network.NewTopologyError("cannot solve without a slack reference")
	}

	ybus := net.Ybus()
	attempts := make([]Attempt, 0, len(cfg.Sequence))

	var winner *result
	var winnerName string

	for _, strat := range cfg.Sequence {
		tol := strat.ToleranceMVA / net.BaseMVA
		log.Printf("[Solver] attempting %s (max %d iterations, tolerance %.1eMVA)",
			strat.Method, strat.MaxIteration, strat.ToleranceMVA)

		started := time.Now()
		res, err := runStrategy(net, ybus, strat, tol)
		elapsed := time.Since(started)
		if err != nil {
			return nil, err
		}

		attempts = append(attempts, Attempt{
			Strategy:       strat.Method,
			Iterations:     res.iterations,
			MaxMismatchMVA: res.maxMismatch * net.BaseMVA,
			Converged:      res.converged,
			Elapsed:        elapsed,
		})

		if res.converged {
			winner = &res
			winnerName = strat.Method
			log.Printf("[Solver] %s converged in %d iterations", strat.Method, res.iterations)
			break
		}
		log.Printf("[Solver] %s failed after %d iterations, max mismatch %.3eMVA",
			strat.Method, res.iterations, res.maxMismatch*net.BaseMVA)
	}

	if winner == nil {
		log.Println("[Solver] all strategies exhausted")
		return nil, &Divergence{Attempts: attempts}
	}

	sol := &Solution{
		Vm:         make([]float64, len(winner.v)),
		Va:         make([]float64, len(winner.v)),
		Strategy:   winnerName,
		Iterations: winner.iterations,
		Attempts:   attempts,
	}
	for i, vi := range winner.v {
		sol.Vm[i] = cmplx.Abs(vi)
		sol.Va[i] = cmplx.Phase(vi)
	}

	for i := range net.Buses {
		net.Buses[i].Vm = sol.Vm[i]
		net.Buses[i].Va = sol.Va[i]
	}
	net.Outcome = network.Outcome{Converged: true, Strategy: winnerName, Iterations: winner.iterations}
	return sol, nil
}

func runStrategy(net *network.Network, ybus [][]complex128, strat config.Strategy, tol float64) (result, error) {
	switch strat.Method {
	case config.MethodNewton:
		return newtonRaphson(net, ybus, net.FlatStart(), strat.MaxIteration, tol), nil
	case config.MethodGaussSeidel:
		return gaussSeidel(net, ybus, net.FlatStart(), strat.MaxIteration, tol), nil
	case config.MethodDCInit:
		v0, err := dcStart(net)
		if err != nil {
			return result{}, err
		}
		return newtonRaphson(net, ybus, v0, strat.MaxIteration, tol), nil
	}
	return result{}, fmt.Errorf("solver: unknown method %q", strat.Method)
}

// mismatch evaluates the AC power mismatch at the given voltages: specified
// minus calculated injection, active power at every non-slack bus, reactive
// power at PQ buses only.
func mismatch(net *network.Network, ybus [][]complex128, v []complex128) (dP, dQ []float64, maxAbs float64) {
	s := network.Injections(ybus, v)
	size := len(net.Buses)
	dP = make([]float64, size)
	dQ = make([]float64, size)

	for i, b := range net.Buses {
		if b.Type == network.Slack {
			continue
		}
		pSpec, qSpec := net.ScheduledInjection(i)
		dP[i] = pSpec - real(s[i])
		maxAbs = growMismatch(maxAbs, dP[i])
		if b.Type == network.PQ {
			dQ[i] = qSpec - imag(s[i])
			maxAbs = growMismatch(maxAbs, dQ[i])
		}
	}
	return dP, dQ, maxAbs
}

func growMismatch(maxAbs, delta float64) float64 {
	a := math.Abs(delta)
	if math.IsNaN(a) {
		return math.Inf(1)
	}
	if a > maxAbs {
		return a
	}
	return maxAbs
}
