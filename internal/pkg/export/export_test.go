package export

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/ohowland/gridflow/internal/pkg/results"
	"gotest.tools/v3/assert"
)

func sampleResults() *results.Results {
	return &results.Results{
		Buses: []results.Bus{
			{BusID: 1, VoltageKV: 380, VmPU: 1.0, VaDeg: 0, Lat: 50.1, Lon: 8.7},
			{BusID: 2, VoltageKV: 380, VmPU: 0.986, VaDeg: -2.4, Lat: 50.9, Lon: 6.9},
		},
		Lines: []results.Flow{
			{FromBus: 1, ToBus: 2, PFromMW: 81.2, QFromMvar: 21.3, PToMW: -80, QToMvar: -20, LoadingPercent: 55.7, LossMW: 1.2},
		},
		Transformers: []results.Flow{
			{FromBus: 1, ToBus: 3, PFromMW: 40, QFromMvar: 10, PToMW: -39.8, QToMvar: -9.9, LoadingPercent: 45.1, LossMW: 0.2},
		},
		Exchanges: []results.Exchange{
			{Bus: 1, Country: "FR", ExchangeMW: -81.2, Direction: "import"},
		},
		Summary: results.Summary{
			Converged:         true,
			Strategy:          "nr",
			Iterations:        4,
			TotalGenerationMW: 81.2,
			TotalLoadMW:       80,
			TotalLossMW:       1.2,
			Warnings:          []string{"branch 1-2 carries no rating"},
		},
	}
}

func TestWriteProducesAllFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run1")
	exp, err := New(dir, 50)
	assert.NilError(t, err)

	assert.NilError(t, exp.Write(sampleResults()))

	for _, name := range []string{
		"bus_results.csv", "branch_results.csv", "transformer_results.csv",
		"exchange_results.csv", "overload_report.csv", "summary.txt", "visualization.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NilError(t, err, "missing %s", name)
	}
}

func TestWriteBusTableRoundTrips(t *testing.T) {
	exp, err := New(t.TempDir(), 100)
	assert.NilError(t, err)
	assert.NilError(t, exp.Write(sampleResults()))

	data, err := ioutil.ReadFile(filepath.Join(exp.Dir(), "bus_results.csv"))
	assert.NilError(t, err)

	var buses []results.Bus
	assert.NilError(t, csvutil.Unmarshal(data, &buses))
	assert.Equal(t, len(buses), 2)
	assert.Equal(t, buses[1].BusID, 2)
	assert.Equal(t, buses[1].VmPU, 0.986)
}

func TestOverloadReportFiltersByThreshold(t *testing.T) {
	exp, err := New(t.TempDir(), 50)
	assert.NilError(t, err)
	assert.NilError(t, exp.Write(sampleResults()))

	data, err := ioutil.ReadFile(filepath.Join(exp.Dir(), "overload_report.csv"))
	assert.NilError(t, err)

	var rows []overloadRow
	assert.NilError(t, csvutil.Unmarshal(data, &rows))
	assert.Equal(t, len(rows), 1, "only the 55.7%% line crosses the 50%% threshold")
	assert.Equal(t, rows[0].Kind, "line")
	assert.Equal(t, rows[0].FromBus, 1)
}

func TestSummaryListsWarnings(t *testing.T) {
	exp, err := New(t.TempDir(), 100)
	assert.NilError(t, err)
	assert.NilError(t, exp.Write(sampleResults()))

	data, err := ioutil.ReadFile(filepath.Join(exp.Dir(), "summary.txt"))
	assert.NilError(t, err)
	text := string(data)
	assert.Assert(t, strings.Contains(text, "strategy: nr"))
	assert.Assert(t, strings.Contains(text, "total loss: 1.200 MW"))
	assert.Assert(t, strings.Contains(text, "branch 1-2 carries no rating"))
}

func TestVisualizationCarriesCoordinates(t *testing.T) {
	exp, err := New(t.TempDir(), 100)
	assert.NilError(t, err)
	assert.NilError(t, exp.Write(sampleResults()))

	data, err := ioutil.ReadFile(filepath.Join(exp.Dir(), "visualization.json"))
	assert.NilError(t, err)

	var vis struct {
		Buses []struct {
			BusID int     `json:"bus_id"`
			Lat   float64 `json:"lat"`
			VmPU  float64 `json:"vm_pu"`
		} `json:"buses"`
		Branches []struct {
			Kind           string  `json:"kind"`
			LoadingPercent float64 `json:"loading_percent"`
		} `json:"branches"`
	}
	assert.NilError(t, json.Unmarshal(data, &vis))
	assert.Equal(t, len(vis.Buses), 2)
	assert.Equal(t, vis.Buses[0].Lat, 50.1)
	assert.Equal(t, len(vis.Branches), 2)
	assert.Equal(t, vis.Branches[1].Kind, "transformer")
}

func TestWriteRefusesUnconvergedRun(t *testing.T) {
	exp, err := New(t.TempDir(), 100)
	assert.NilError(t, err)

	res := sampleResults()
	res.Summary.Converged = false
	assert.Assert(t, exp.Write(res) != nil)
}
