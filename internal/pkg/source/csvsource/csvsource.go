// Package csvsource loads the grid record tables from a directory of CSV
// files. External grids are the only optional table; a study without them
// falls back to automatic slack selection downstream.
package csvsource

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/ohowland/gridflow/internal/pkg/record"
)

// Load reads all record tables from dir into a dataset. Empty cells decode
// to zero values, matching sparsely populated source extracts.
func Load(dir string) (*record.Dataset, error) {
	ds := &record.Dataset{}

	tables := []struct {
		name     string
		out      interface{}
		required bool
	}{
		{"buses.csv", &ds.Buses, true},
		{"lines.csv", &ds.Lines, true},
		{"transformers.csv", &ds.Transformers, true},
		{"generators.csv", &ds.Generators, true},
		{"loads.csv", &ds.Loads, true},
		{"external_grids.csv", &ds.ExternalGrids, false},
	}

	for _, tbl := range tables {
		if err := read(filepath.Join(dir, tbl.name), tbl.out, tbl.required); err != nil {
			return nil, err
		}
	}

	log.Printf("[CSVSource] loaded %d buses, %d lines, %d transformers, %d generators, %d loads, %d external grids from %s",
		len(ds.Buses), len(ds.Lines), len(ds.Transformers), len(ds.Generators), len(ds.Loads), len(ds.ExternalGrids), dir)
	return ds, nil
}

func read(path string, out interface{}, required bool) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			log.Printf("[CSVSource] optional table %s absent", filepath.Base(path))
			return nil
		}
		return fmt.Errorf("csvsource: %v", err)
	}
	if err := csvutil.Unmarshal(data, out); err != nil {
		return fmt.Errorf("csvsource: %s: %v", filepath.Base(path), err)
	}
	return nil
}
