package solver

import (
	"math"
	"math/cmplx"

	"github.com/ohowland/gridflow/internal/pkg/network"
)

// gaussSeidel sweeps complex voltage updates bus by bus, reusing already
// updated neighbors within the same sweep. Slower than Newton but tolerant
// of poor starting points.
func gaussSeidel(net *network.Network, ybus [][]complex128, v0 []complex128, maxIter int, tol float64) result {
	size := len(net.Buses)
	v := make([]complex128, size)
	copy(v, v0)

	_, _, maxAbs := mismatch(net, ybus, v)

	for iter := 0; iter < maxIter; iter++ {
		if maxAbs < tol {
			return result{v: v, iterations: iter, maxMismatch: maxAbs, converged: true}
		}
		if maxAbs > divergeGuard || math.IsInf(maxAbs, 1) {
			return result{v: v, iterations: iter, maxMismatch: maxAbs}
		}

		for i, b := range net.Buses {
			if b.Type == network.Slack {
				continue
			}

			pSpec, qSpec := net.ScheduledInjection(i)
			if b.Type == network.PV {
				// reactive power floats on a PV bus; use the value implied
				// by the present voltages
				var sum complex128
				for k := 0; k < size; k++ {
					sum += ybus[i][k] * v[k]
				}
				qSpec = imag(v[i] * cmplx.Conj(sum))
			}

			var sum complex128
			for k := 0; k < size; k++ {
				if k != i {
					sum += ybus[i][k] * v[k]
				}
			}
			sSpec := complex(pSpec, qSpec)
			vNew := (cmplx.Conj(sSpec/v[i]) - sum) / ybus[i][i]

			if b.Type == network.PV {
				// hold the setpoint magnitude, keep the solved angle
				mag := cmplx.Abs(vNew)
				if mag > 0 {
					vNew = vNew * complex(b.VSet/mag, 0)
				}
			}
			v[i] = vNew
		}

		_, _, maxAbs = mismatch(net, ybus, v)
	}

	return result{v: v, iterations: maxIter, maxMismatch: maxAbs, converged: maxAbs < tol}
}
