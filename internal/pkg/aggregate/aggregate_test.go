package aggregate

import (
	"math"
	"testing"

	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/record"
	"gotest.tools/v3/assert"
)

func studyConfig() config.Config {
	cfg := config.Default()
	cfg.GenerationScale = 1.0
	cfg.LoadScale = 1.0
	return cfg
}

func TestGeneratorPowerIsCapacityFactoredSum(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 1, VoltageKV: 380}},
		Generators: []record.Generator{
			{Bus: 1, Type: "wind_offshore", RatedMW: 400},
			{Bus: 1, Type: "natural_gas", RatedMW: 250},
			{Bus: 1, Type: "solar_radiant_energy", RatedMW: 100},
		},
	}

	res, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	assert.Equal(t, len(res.Generators), 1, "co-located same-control units merge")

	want := 400*0.5 + 250*0.620 + 100*0.3
	got := res.Generators[0].PMW
	assert.Assert(t, math.Abs(got-want) < 1e-9, "got %.6f want %.6f", got, want)
	assert.Equal(t, res.Generators[0].Count, 3)
	assert.Equal(t, res.Generators[0].RatedMW, 750.0)
	assert.Equal(t, res.Generators[0].Control, record.ControlPV, "380kV defaults to voltage control")
}

func TestGeneratorGroupsSplitByControl(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 5, VoltageKV: 380}},
		Generators: []record.Generator{
			{Bus: 5, Type: "water", RatedMW: 50},
			{Bus: 5, Type: "water", RatedMW: 50, Control: record.ControlPQ},
		},
	}

	res, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	assert.Equal(t, len(res.Generators), 2, "one aggregated generator per control mode")
	assert.Equal(t, res.Generators[0].Control, record.ControlPQ)
	assert.Equal(t, res.Generators[1].Control, record.ControlPV)

	pq := res.Generators[0]
	tanPhi := TanPhi(cfg.PowerFactor)
	assert.Assert(t, math.Abs(pq.QMvar-pq.PMW*tanPhi) < 1e-9, "pq reactive power follows the power factor")
}

func TestParallelLinesCombineAdmittances(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 1, VoltageKV: 380}, {ID: 2, VoltageKV: 380}},
		Lines: []record.Line{
			{FromBus: 1, ToBus: 2, ROhmPerKM: 0.03, XOhmPerKM: 0.3, CNFPerKM: 12, LengthKM: 100, MaxIKA: 2.0, Circuits: 1},
			{FromBus: 2, ToBus: 1, ROhmPerKM: 0.03, XOhmPerKM: 0.3, CNFPerKM: 12, LengthKM: 100, MaxIKA: 2.0, Circuits: 1},
		},
	}

	res, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	assert.Equal(t, len(res.Lines), 1, "reversed pair normalizes into one group")

	eq := res.Lines[0]
	assert.Equal(t, eq.Count, 2)
	// two identical circuits in parallel halve the series impedance
	assert.Assert(t, math.Abs(eq.ROhm-1.5) < 1e-9, "got R %.6f", eq.ROhm)
	assert.Assert(t, math.Abs(eq.XOhm-15.0) < 1e-9, "got X %.6f", eq.XOhm)
	// charging and rating add
	wantB := 2 * (2 * math.Pi * 50) * 12e-9 * 100
	assert.Assert(t, math.Abs(eq.BSiemens-wantB) < 1e-15)
	assert.Equal(t, eq.MaxIKA, 4.0)
}

func TestCircuitCountScalesSingleRecord(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 1, VoltageKV: 220}, {ID: 2, VoltageKV: 220}},
		Lines: []record.Line{
			{FromBus: 1, ToBus: 2, ROhmPerKM: 0.06, XOhmPerKM: 0.4, CNFPerKM: 9, LengthKM: 50, MaxIKA: 0.645, Circuits: 3},
		},
	}

	res, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	eq := res.Lines[0]
	assert.Equal(t, eq.Count, 3)
	assert.Assert(t, math.Abs(eq.ROhm-(0.06*50)/3) < 1e-9)
	assert.Assert(t, math.Abs(eq.XOhm-(0.4*50)/3) < 1e-9)
}

func TestLoadsLumpAndDeriveReactive(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 3, VoltageKV: 220}},
		Loads: []record.Load{
			{Bus: 3, PMW: 100},
			{Bus: 3, PMW: 50, QMvar: 10},
		},
	}

	res, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	assert.Equal(t, len(res.Loads), 1)

	lump := res.Loads[0]
	assert.Equal(t, lump.PMW, 150.0)
	wantQ := 100*TanPhi(cfg.PowerFactor) + 10
	assert.Assert(t, math.Abs(lump.QMvar-wantQ) < 1e-9, "missing q derived from power factor, explicit q kept")
}

func TestDeterministicOrdering(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses: []record.Bus{{ID: 1, VoltageKV: 380}, {ID: 2, VoltageKV: 380}, {ID: 3, VoltageKV: 380}},
		Lines: []record.Line{
			{FromBus: 3, ToBus: 2, XOhmPerKM: 0.3, LengthKM: 10, MaxIKA: 1},
			{FromBus: 2, ToBus: 1, XOhmPerKM: 0.3, LengthKM: 10, MaxIKA: 1},
			{FromBus: 1, ToBus: 3, XOhmPerKM: 0.3, LengthKM: 10, MaxIKA: 1},
		},
	}

	first, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	second, err := Aggregate(ds, cfg)
	assert.NilError(t, err)

	assert.DeepEqual(t, first, second)
	assert.Equal(t, first.Lines[0].FromBus, 1)
	assert.Equal(t, first.Lines[0].ToBus, 2)
	assert.Equal(t, first.Lines[2].FromBus, 2)
	assert.Equal(t, first.Lines[2].ToBus, 3)
}

func TestRawRecordsNotMutated(t *testing.T) {
	cfg := studyConfig()
	cfg.GenerationScale = 0.5
	gen := record.Generator{Bus: 1, Type: "biomass", RatedMW: 80}
	ds := &record.Dataset{
		Buses:      []record.Bus{{ID: 1, VoltageKV: 380}},
		Generators: []record.Generator{gen},
	}

	_, err := Aggregate(ds, cfg)
	assert.NilError(t, err)
	assert.Equal(t, ds.Generators[0], gen, "aggregation must not touch its inputs")
}

func TestAggregateRejectsBadRecords(t *testing.T) {
	cfg := studyConfig()
	ds := &record.Dataset{
		Buses:      []record.Bus{{ID: 1, VoltageKV: 380}},
		Generators: []record.Generator{{Bus: 1, Type: "wind", RatedMW: -5}},
	}

	_, err := Aggregate(ds, cfg)
	assert.Assert(t, err != nil, "negative rated power must be rejected")
}
