// Package export writes the result tables of a converged run into a
// per-run directory: CSV tables for buses, branches, transformers and
// exchanges, an overload report, a plain-text summary, and a JSON bundle
// for map visualization.
package export

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/ohowland/gridflow/internal/pkg/results"
)

// Exporter owns one run's output directory.
type Exporter struct {
	dir               string
	overloadThreshold float64
}

// New prepares the run directory.
func New(dir string, overloadThreshold float64) (Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Exporter{}, fmt.Errorf("export: cannot create %s: %v", dir, err)
	}
	return Exporter{dir: dir, overloadThreshold: overloadThreshold}, nil
}

// Dir returns the run directory files are written into.
func (e Exporter) Dir() string {
	return e.dir
}

type overloadRow struct {
	Kind string `csv:"kind"`
	results.Flow
}

type visBus struct {
	BusID int     `json:"bus_id"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	VmPU  float64 `json:"vm_pu"`
}

type visBranch struct {
	FromBus        int     `json:"from_bus"`
	ToBus          int     `json:"to_bus"`
	Kind           string  `json:"kind"`
	LoadingPercent float64 `json:"loading_percent"`
}

type visualization struct {
	Buses    []visBus    `json:"buses"`
	Branches []visBranch `json:"branches"`
}

// Write persists every result table. It refuses an unconverged summary so a
// failed run can never leave partial tables behind.
func (e Exporter) Write(res *results.Results) error {
	if !res.Summary.Converged {
		return fmt.Errorf("export: refusing to write an unconverged run")
	}

	if err := e.writeCSV("bus_results.csv", res.Buses); err != nil {
		return err
	}
	if err := e.writeCSV("branch_results.csv", res.Lines); err != nil {
		return err
	}
	if err := e.writeCSV("transformer_results.csv", res.Transformers); err != nil {
		return err
	}
	if err := e.writeCSV("exchange_results.csv", res.Exchanges); err != nil {
		return err
	}
	if err := e.writeCSV("overload_report.csv", e.overloads(res)); err != nil {
		return err
	}
	if err := e.writeSummary(res.Summary); err != nil {
		return err
	}
	if err := e.writeVisualization(res); err != nil {
		return err
	}
	log.Printf("[Export] run results written to %s", e.dir)
	return nil
}

func (e Exporter) writeCSV(name string, rows interface{}) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("export: marshal %s: %v", name, err)
	}
	return e.writeFile(name, data)
}

func (e Exporter) overloads(res *results.Results) []overloadRow {
	rows := make([]overloadRow, 0)
	for _, f := range res.Lines {
		if f.LoadingPercent >= e.overloadThreshold {
			rows = append(rows, overloadRow{Kind: "line", Flow: f})
		}
	}
	for _, f := range res.Transformers {
		if f.LoadingPercent >= e.overloadThreshold {
			rows = append(rows, overloadRow{Kind: "transformer", Flow: f})
		}
	}
	return rows
}

func (e Exporter) writeSummary(sum results.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", sum.Scenario)
	fmt.Fprintf(&b, "converged: %t\n", sum.Converged)
	fmt.Fprintf(&b, "strategy: %s\n", sum.Strategy)
	fmt.Fprintf(&b, "iterations: %d\n", sum.Iterations)
	fmt.Fprintf(&b, "total generation: %.3f MW\n", sum.TotalGenerationMW)
	fmt.Fprintf(&b, "total load: %.3f MW\n", sum.TotalLoadMW)
	fmt.Fprintf(&b, "total loss: %.3f MW\n", sum.TotalLossMW)
	fmt.Fprintf(&b, "warnings: %d\n", len(sum.Warnings))
	for _, w := range sum.Warnings {
		fmt.Fprintf(&b, "  - %s\n", w)
	}
	return e.writeFile("summary.txt", []byte(b.String()))
}

func (e Exporter) writeVisualization(res *results.Results) error {
	vis := visualization{
		Buses:    make([]visBus, 0, len(res.Buses)),
		Branches: make([]visBranch, 0, len(res.Lines)+len(res.Transformers)),
	}
	for _, b := range res.Buses {
		vis.Buses = append(vis.Buses, visBus{BusID: b.BusID, Lat: b.Lat, Lon: b.Lon, VmPU: b.VmPU})
	}
	for _, f := range res.Lines {
		vis.Branches = append(vis.Branches, visBranch{FromBus: f.FromBus, ToBus: f.ToBus, Kind: "line", LoadingPercent: f.LoadingPercent})
	}
	for _, f := range res.Transformers {
		vis.Branches = append(vis.Branches, visBranch{FromBus: f.FromBus, ToBus: f.ToBus, Kind: "transformer", LoadingPercent: f.LoadingPercent})
	}

	data, err := json.MarshalIndent(vis, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal visualization: %v", err)
	}
	return e.writeFile("visualization.json", data)
}

func (e Exporter) writeFile(name string, data []byte) error {
	path := filepath.Join(e.dir, name)
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("export: write %s: %v", path, err)
	}
	return nil
}
