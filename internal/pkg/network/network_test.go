package network

import (
	"math"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewRejectsDuplicateBusIDs(t *testing.T) {
	buses := []Bus{{ID: 1, VoltageKV: 380}, {ID: 1, VoltageKV: 220}}
	_, err := New(100, buses, nil)
	assert.Assert(t, err != nil, "duplicate ids must be rejected")
}

func TestYbusLine(t *testing.T) {
	buses := []Bus{{ID: 1, VoltageKV: 380}, {ID: 2, VoltageKV: 380}}
	branches := []Branch{{From: 0, To: 1, R: 0.01, X: 0.1, B: 0.04, Tap: 1}}
	net, err := New(100, buses, branches)
	assert.NilError(t, err)

	y := net.Ybus()
	ys := complex(1, 0) / complex(0.01, 0.1)
	sh := complex(0, 0.02)

	assert.Assert(t, cEqual(y[0][0], ys+sh), "diagonal holds series plus half charging")
	assert.Assert(t, cEqual(y[1][1], ys+sh))
	assert.Assert(t, cEqual(y[0][1], -ys))
	assert.Assert(t, cEqual(y[1][0], -ys), "line admittance is symmetric")
}

func TestYbusTransformerTap(t *testing.T) {
	buses := []Bus{{ID: 1, VoltageKV: 380}, {ID: 2, VoltageKV: 220}}
	branches := []Branch{{
		From: 0, To: 1, R: 0.001, X: 0.02, Tap: 1.05,
		GShunt: 0.0006, BShunt: -0.003, Kind: KindTransformer,
	}}
	net, err := New(100, buses, branches)
	assert.NilError(t, err)

	y := net.Ybus()
	ys := complex(1, 0) / complex(0.001, 0.02)
	tap := complex(1.05, 0)

	assert.Assert(t, cEqual(y[0][0], ys/(tap*tap)+complex(0.0006, -0.003)), "hv diagonal scaled by tap squared plus magnetizing")
	assert.Assert(t, cEqual(y[1][1], ys), "lv diagonal unscaled")
	assert.Assert(t, cEqual(y[0][1], -ys/tap))
	assert.Assert(t, cEqual(y[1][0], -ys/tap))
}

func TestFlatStart(t *testing.T) {
	buses := []Bus{
		{ID: 1, VoltageKV: 380, Type: Slack, VSet: 1.02},
		{ID: 2, VoltageKV: 380, Type: PV, VSet: 1.01},
		{ID: 3, VoltageKV: 220, Type: PQ},
	}
	net, err := New(100, buses, nil)
	assert.NilError(t, err)

	v := net.FlatStart()
	assert.Equal(t, v[0], complex(1.02, 0))
	assert.Equal(t, v[1], complex(1.01, 0))
	assert.Equal(t, v[2], complex(1.0, 0))
}

func TestInjectionsTwoBus(t *testing.T) {
	// slack at 1.0pu feeding a purely reactive branch into a flat pq bus
	// gives zero injection everywhere at the flat start
	buses := []Bus{{ID: 1, VoltageKV: 380, Type: Slack, VSet: 1}, {ID: 2, VoltageKV: 380, Type: PQ}}
	branches := []Branch{{From: 0, To: 1, X: 0.1, Tap: 1}}
	net, err := New(100, buses, branches)
	assert.NilError(t, err)

	s := Injections(net.Ybus(), net.FlatStart())
	for i, si := range s {
		assert.Assert(t, cmplx128Abs(si) < 1e-12, "bus %d injection %.3e", i, cmplx128Abs(si))
	}
}

func TestBusesOfType(t *testing.T) {
	buses := []Bus{
		{ID: 1, Type: Slack, VoltageKV: 380},
		{ID: 2, Type: PV, VoltageKV: 380},
		{ID: 3, Type: PQ, VoltageKV: 220},
		{ID: 4, Type: PQ, VoltageKV: 220},
	}
	net, err := New(100, buses, nil)
	assert.NilError(t, err)

	assert.DeepEqual(t, net.BusesOfType(Slack), []int{0})
	assert.DeepEqual(t, net.BusesOfType(PV), []int{1})
	assert.DeepEqual(t, net.BusesOfType(PQ), []int{2, 3})
}

func cEqual(a, b complex128) bool {
	return cmplx128Abs(a-b) < 1e-12
}

func cmplx128Abs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
