// Package webservice exposes archived run results over HTTP. It serves
// whatever store it is handed; production wires the Postgres store, tests
// wire the memory store.
package webservice

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ohowland/gridflow/internal/lib/webservice/models"
)

type App struct {
	Store models.Store
}

// Ingest is the POST /run request body.
type Ingest struct {
	Summary models.RunSummary   `json:"summary"`
	Buses   []models.BusVoltage `json:"buses"`
}

func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.BaseHandler)
	r.HandleFunc("/run", app.IngestHandler).Methods("POST")
	r.HandleFunc("/run/{pid}/summary", app.SummaryHandler).Methods("GET")
	r.HandleFunc("/run/{pid}/bus/{id}", app.BusHandler).Methods("GET")
	return r
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
}

func (app *App) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	pid, err := uuid.Parse(vars["pid"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sum, err := app.Store.Run(pid.String())
	if err == models.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		log.Println("[Webservice] summary lookup:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, sum)
}

func (app *App) BusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	pid, err := uuid.Parse(vars["pid"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	busID, err := strconv.Atoi(vars["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	bus, err := app.Store.Bus(pid.String(), busID)
	if err == models.ErrNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		log.Println("[Webservice] bus lookup:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, bus)
}

func (app *App) IngestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req Ingest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(req.Summary.PID); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := app.Store.SaveRun(req.Summary, req.Buses); err != nil {
		log.Println("[Webservice] ingest:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	log.Println("[Webservice] ingested run", req.Summary.PID)
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
