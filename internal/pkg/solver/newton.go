package solver

import (
	"math"
	"math/cmplx"

	"github.com/ohowland/gridflow/internal/pkg/network"
	"gonum.org/v1/gonum/mat"
)

// newtonRaphson iterates the full Jacobian update from the given start
// voltages. Unknowns are the angles of every non-slack bus and the
// magnitudes of every PQ bus.
func newtonRaphson(net *network.Network, ybus [][]complex128, v0 []complex128, maxIter int, tol float64) result {
	size := len(net.Buses)
	vm := make([]float64, size)
	va := make([]float64, size)
	for i, vi := range v0 {
		vm[i] = cmplx.Abs(vi)
		va[i] = cmplx.Phase(vi)
	}

	pvpq := make([]int, 0, size)
	pq := make([]int, 0, size)
	for i, b := range net.Buses {
		switch b.Type {
		case network.PV:
			pvpq = append(pvpq, i)
		case network.PQ:
			pvpq = append(pvpq, i)
			pq = append(pq, i)
		}
	}
	dim := len(pvpq) + len(pq)

	v := polarVector(vm, va)
	_, _, maxAbs := mismatch(net, ybus, v)

	for iter := 0; iter < maxIter; iter++ {
		if maxAbs < tol {
			return result{v: v, iterations: iter, maxMismatch: maxAbs, converged: true}
		}
		if maxAbs > divergeGuard || math.IsInf(maxAbs, 1) {
			return result{v: v, iterations: iter, maxMismatch: maxAbs}
		}
		if dim == 0 {
			break
		}

		dP, dQ, _ := mismatch(net, ybus, v)
		jac := jacobian(net, ybus, vm, va, pvpq, pq)

		rhs := mat.NewVecDense(dim, nil)
		for row, i := range pvpq {
			rhs.SetVec(row, dP[i])
		}
		for row, i := range pq {
			rhs.SetVec(len(pvpq)+row, dQ[i])
		}

		var lu mat.LU
		lu.Factorize(jac)
		dx := mat.NewVecDense(dim, nil)
		if err := lu.SolveVecTo(dx, false, rhs); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return result{v: v, iterations: iter, maxMismatch: maxAbs}
			}
		}

		for row, i := range pvpq {
			va[i] += dx.AtVec(row)
		}
		for row, i := range pq {
			vm[i] += dx.AtVec(len(pvpq) + row)
		}

		v = polarVector(vm, va)
		_, _, maxAbs = mismatch(net, ybus, v)
	}

	return result{v: v, iterations: maxIter, maxMismatch: maxAbs, converged: maxAbs < tol}
}

func polarVector(vm, va []float64) []complex128 {
	v := make([]complex128, len(vm))
	for i := range vm {
		v[i] = cmplx.Rect(vm[i], va[i])
	}
	return v
}

// jacobian builds the polar-form power-flow Jacobian
// [dP/dVa dP/dVm; dQ/dVa dQ/dVm] over the unknown ordering used by
// newtonRaphson.
func jacobian(net *network.Network, ybus [][]complex128, vm, va []float64, pvpq, pq []int) *mat.Dense {
	v := polarVector(vm, va)
	s := network.Injections(ybus, v)

	dim := len(pvpq) + len(pq)
	jac := mat.NewDense(dim, dim, nil)

	for row, i := range pvpq {
		pi, qi := real(s[i]), imag(s[i])
		gii, bii := real(ybus[i][i]), imag(ybus[i][i])

		for col, k := range pvpq {
			if i == k {
				jac.Set(row, col, -qi-bii*vm[i]*vm[i])
				continue
			}
			g, b := real(ybus[i][k]), imag(ybus[i][k])
			theta := va[i] - va[k]
			jac.Set(row, col, vm[i]*vm[k]*(g*math.Sin(theta)-b*math.Cos(theta)))
		}
		for col, k := range pq {
			if i == k {
				jac.Set(row, len(pvpq)+col, pi/vm[i]+gii*vm[i])
				continue
			}
			g, b := real(ybus[i][k]), imag(ybus[i][k])
			theta := va[i] - va[k]
			jac.Set(row, len(pvpq)+col, vm[i]*(g*math.Cos(theta)+b*math.Sin(theta)))
		}
	}

	for row, i := range pq {
		pi, qi := real(s[i]), imag(s[i])
		gii, bii := real(ybus[i][i]), imag(ybus[i][i])

		for col, k := range pvpq {
			if i == k {
				jac.Set(len(pvpq)+row, col, pi-gii*vm[i]*vm[i])
				continue
			}
			g, b := real(ybus[i][k]), imag(ybus[i][k])
			theta := va[i] - va[k]
			jac.Set(len(pvpq)+row, col, -vm[i]*vm[k]*(g*math.Cos(theta)+b*math.Sin(theta)))
		}
		for col, k := range pq {
			if i == k {
				jac.Set(len(pvpq)+row, len(pvpq)+col, qi/vm[i]-bii*vm[i])
				continue
			}
			g, b := real(ybus[i][k]), imag(ybus[i][k])
			theta := va[i] - va[k]
			jac.Set(len(pvpq)+row, len(pvpq)+col, vm[i]*(g*math.Sin(theta)-b*math.Cos(theta)))
		}
	}

	return jac
}
