// Package models is the result store behind the webservice: run summaries
// and per-bus voltages keyed by run PID, served from Postgres in production
// and from memory in tests.
package models

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// ErrNotFound reports a missing run or bus row.
var ErrNotFound = errors.New("models: not found")

// RunSummary is one archived run.
type RunSummary struct {
	PID               string  `json:"pid"`
	Scenario          string  `json:"scenario"`
	Converged         bool    `json:"converged"`
	Strategy          string  `json:"strategy"`
	Iterations        int     `json:"iterations"`
	TotalGenerationMW float64 `json:"total_generation_mw"`
	TotalLoadMW       float64 `json:"total_load_mw"`
	TotalLossMW       float64 `json:"total_loss_mw"`
}

// BusVoltage is one bus of an archived run.
type BusVoltage struct {
	PID   string  `json:"pid"`
	BusID int     `json:"bus_id"`
	VmPU  float64 `json:"vm_pu"`
	VaDeg float64 `json:"va_deg"`
}

// Store is the persistence surface shared by the pipeline writer and the
// webservice reader.
type Store interface {
	SaveRun(sum RunSummary, buses []BusVoltage) error
	Run(pid string) (RunSummary, error)
	Bus(pid string, busID int) (BusVoltage, error)
}

// PostgresStore serves results from the study database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the study database and ensures the schema.
func NewPostgresStore(host string, port int, user, password, dbname string) (*PostgresStore, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s "+
		"password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables() error {
	summaryTable := `
	CREATE TABLE IF NOT EXISTS run_summary (
		pid UUID PRIMARY KEY,
		scenario TEXT,
		converged BOOL,
		strategy TEXT,
		iterations INT,
		total_generation_mw FLOAT,
		total_load_mw FLOAT,
		total_loss_mw FLOAT
	);`
	if _, err := s.db.Exec(summaryTable); err != nil {
		return err
	}

	busTable := `
	CREATE TABLE IF NOT EXISTS bus_voltage (
		pid UUID,
		bus_id INT,
		vm_pu FLOAT,
		va_deg FLOAT,
		PRIMARY KEY (pid, bus_id)
	);`
	_, err := s.db.Exec(busTable)
	return err
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) SaveRun(sum RunSummary, buses []BusVoltage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	summaryUpsert := `
	INSERT INTO run_summary (pid, scenario, converged, strategy, iterations,
		total_generation_mw, total_load_mw, total_loss_mw)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (pid) DO UPDATE SET
		scenario = EXCLUDED.scenario,
		converged = EXCLUDED.converged,
		strategy = EXCLUDED.strategy,
		iterations = EXCLUDED.iterations,
		total_generation_mw = EXCLUDED.total_generation_mw,
		total_load_mw = EXCLUDED.total_load_mw,
		total_loss_mw = EXCLUDED.total_loss_mw;`
	if _, err := tx.Exec(summaryUpsert, sum.PID, sum.Scenario, sum.Converged, sum.Strategy,
		sum.Iterations, sum.TotalGenerationMW, sum.TotalLoadMW, sum.TotalLossMW); err != nil {
		tx.Rollback()
		return err
	}

	busUpsert := `
	INSERT INTO bus_voltage (pid, bus_id, vm_pu, va_deg)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (pid, bus_id) DO UPDATE SET
		vm_pu = EXCLUDED.vm_pu,
		va_deg = EXCLUDED.va_deg;`
	for _, b := range buses {
		if _, err := tx.Exec(busUpsert, sum.PID, b.BusID, b.VmPU, b.VaDeg); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Run(pid string) (RunSummary, error) {
	sum := RunSummary{PID: pid}
	err := s.db.QueryRow(`
	SELECT scenario, converged, strategy, iterations,
		total_generation_mw, total_load_mw, total_loss_mw
	FROM run_summary WHERE pid = $1`, pid).Scan(
		&sum.Scenario, &sum.Converged, &sum.Strategy, &sum.Iterations,
		&sum.TotalGenerationMW, &sum.TotalLoadMW, &sum.TotalLossMW)
	if err == sql.ErrNoRows {
		return RunSummary{}, ErrNotFound
	}
	return sum, err
}

func (s *PostgresStore) Bus(pid string, busID int) (BusVoltage, error) {
	b := BusVoltage{PID: pid, BusID: busID}
	err := s.db.QueryRow(`
	SELECT vm_pu, va_deg FROM bus_voltage WHERE pid = $1 AND bus_id = $2`,
		pid, busID).Scan(&b.VmPU, &b.VaDeg)
	if err == sql.ErrNoRows {
		return BusVoltage{}, ErrNotFound
	}
	return b, err
}

// MemoryStore keeps results in process, for tests and dry runs.
type MemoryStore struct {
	mux   sync.Mutex
	runs  map[string]RunSummary
	buses map[string]map[int]BusVoltage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]RunSummary),
		buses: make(map[string]map[int]BusVoltage),
	}
}

func (s *MemoryStore) SaveRun(sum RunSummary, buses []BusVoltage) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.runs[sum.PID] = sum
	byBus := make(map[int]BusVoltage, len(buses))
	for _, b := range buses {
		byBus[b.BusID] = b
	}
	s.buses[sum.PID] = byBus
	return nil
}

func (s *MemoryStore) Run(pid string) (RunSummary, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	sum, ok := s.runs[pid]
	if !ok {
		return RunSummary{}, ErrNotFound
	}
	return sum, nil
}

func (s *MemoryStore) Bus(pid string, busID int) (BusVoltage, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	b, ok := s.buses[pid][busID]
	if !ok {
		return BusVoltage{}, ErrNotFound
	}
	return b, nil
}
