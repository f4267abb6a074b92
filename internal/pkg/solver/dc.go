package solver

import (
	"fmt"
	"math/cmplx"

	"github.com/ohowland/gridflow/internal/pkg/network"
	"gonum.org/v1/gonum/mat"
)

// dcStart solves the lossless DC linearization B'·theta = P and returns a
// voltage vector with flat setpoint magnitudes and the DC angles, used to
// seed a final Newton attempt.
func dcStart(net *network.Network) ([]complex128, error) {
	size := len(net.Buses)

	rows := make([]int, 0, size)
	pos := make(map[int]int, size)
	for i, b := range net.Buses {
		if b.Type == network.Slack {
			continue
		}
		pos[i] = len(rows)
		rows = append(rows, i)
	}

	if len(rows) == 0 {
		return net.FlatStart(), nil
	}

	bp := mat.NewDense(len(rows), len(rows), nil)
	for _, br := range net.Branches {
		if br.X == 0 {
			continue
		}
		tap := br.Tap
		if tap == 0 {
			tap = 1
		}
		b := 1 / (br.X * tap)

		if ri, ok := pos[br.From]; ok {
			bp.Set(ri, ri, bp.At(ri, ri)+b)
		}
		if rk, ok := pos[br.To]; ok {
			bp.Set(rk, rk, bp.At(rk, rk)+b)
		}
		ri, okF := pos[br.From]
		rk, okT := pos[br.To]
		if okF && okT {
			bp.Set(ri, rk, bp.At(ri, rk)-b)
			bp.Set(rk, ri, bp.At(rk, ri)-b)
		}
	}

	p := mat.NewVecDense(len(rows), nil)
	for r, i := range rows {
		pSpec, _ := net.ScheduledInjection(i)
		p.SetVec(r, pSpec)
	}

	var lu mat.LU
	lu.Factorize(bp)
	theta := mat.NewVecDense(len(rows), nil)
	if err := lu.SolveVecTo(theta, false, p); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("solver: dc initialization failed: %v", err)
		}
	}

	v := net.FlatStart()
	for r, i := range rows {
		vm := 1.0
		if net.Buses[i].Type == network.PV {
			vm = net.Buses[i].VSet
		}
		v[i] = cmplx.Rect(vm, theta.AtVec(r))
	}
	return v, nil
}
