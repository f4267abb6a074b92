package webservice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/lib/webservice/models"
	"gotest.tools/v3/assert"
)

func seededApp(t *testing.T) (*App, string) {
	t.Helper()
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)

	store := models.NewMemoryStore()
	err = store.SaveRun(
		models.RunSummary{
			PID:               pid.String(),
			Scenario:          "de-transmission",
			Converged:         true,
			Strategy:          "nr",
			Iterations:        4,
			TotalGenerationMW: 81.2,
			TotalLoadMW:       80,
			TotalLossMW:       1.2,
		},
		[]models.BusVoltage{
			{PID: pid.String(), BusID: 1, VmPU: 1.0, VaDeg: 0},
			{PID: pid.String(), BusID: 2, VmPU: 0.986, VaDeg: -2.4},
		},
	)
	assert.NilError(t, err)
	return &App{Store: store}, pid.String()
}

func TestSummaryGet(t *testing.T) {
	app, pid := seededApp(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/run/"+pid+"/summary", nil)
	app.Router().ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")

	var sum models.RunSummary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, sum.Strategy, "nr")
	assert.Equal(t, sum.TotalLossMW, 1.2)
}

func TestSummaryGetUnknownRun(t *testing.T) {
	app, _ := seededApp(t)
	other, err := uuid.NewUUID()
	assert.NilError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/run/"+other.String()+"/summary", nil)
	app.Router().ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestSummaryGetMalformedPID(t *testing.T) {
	app, _ := seededApp(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/run/not-a-uuid/summary", nil)
	app.Router().ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestBusGet(t *testing.T) {
	app, pid := seededApp(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/run/"+pid+"/bus/2", nil)
	app.Router().ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusOK)

	var bus models.BusVoltage
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &bus))
	assert.Equal(t, bus.BusID, 2)
	assert.Equal(t, bus.VmPU, 0.986)
}

func TestBusGetUnknownBus(t *testing.T) {
	app, pid := seededApp(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://example.com/run/"+pid+"/bus/99", nil)
	app.Router().ServeHTTP(w, r)

	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestIngestPost(t *testing.T) {
	app := &App{Store: models.NewMemoryStore()}
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)

	req := Ingest{
		Summary: models.RunSummary{PID: pid.String(), Scenario: "winter-peak", Converged: true, Strategy: "gs"},
		Buses:   []models.BusVoltage{{PID: pid.String(), BusID: 1, VmPU: 1.01}},
	}
	body, err := json.Marshal(req)
	assert.NilError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/run", bytes.NewBuffer(body))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, w.Code, http.StatusCreated)

	sum, err := app.Store.Run(pid.String())
	assert.NilError(t, err)
	assert.Equal(t, sum.Scenario, "winter-peak")

	bus, err := app.Store.Bus(pid.String(), 1)
	assert.NilError(t, err)
	assert.Equal(t, bus.VmPU, 1.01)
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	app := &App{Store: models.NewMemoryStore()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/run", bytes.NewBufferString("{not json"))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}
