// Package web pushes finished runs to a remote results service over HTTP.
// It is the thin client used when the study host has no direct database
// access; the service side is internal/lib/webservice.
package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/lib/webservice"
	"github.com/ohowland/gridflow/internal/lib/webservice/models"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/results"
)

const pushTimeout = 10 * time.Second

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config.Remote
	client *http.Client
	stop   chan bool
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
	close(chOut)
}

// New subscribes a push client to the run's result events.
func New(cfg config.Remote, system msg.Publisher) (Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	chResult, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chResult, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		client: &http.Client{Timeout: pushTimeout},
		stop:   make(chan bool),
	}, nil
}

func (h *Handler) Stop() {
	h.stop <- true
}

// Process consumes result events until stopped.
func (h Handler) Process() {
	log.Println("[Web] Process Started")
loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			h.handle(m)
		case <-h.stop:
			break loop
		}
	}
	log.Println("[Web] Process Shutdown")
}

func (h Handler) handle(m msg.Msg) {
	if m.Topic() != msg.Result {
		return
	}
	res, ok := m.Payload().(*results.Results)
	if !ok {
		return
	}

	body, err := json.Marshal(ingestBody(m.PID(), res))
	if err != nil {
		log.Println("[Web] marshal run:", err)
		return
	}
	if err := h.post(body); err != nil {
		log.Println("[Web] push run:", err)
		return
	}
	log.Printf("[Web] pushed run %v to %s", m.PID(), h.config.URL)
}

func (h Handler) post(body []byte) error {
	resp, err := h.client.Post(h.config.URL+"/run", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("web: push rejected with status %s", resp.Status)
	}
	return nil
}

// ingestBody flattens a run report into the service's ingest payload.
func ingestBody(pid uuid.UUID, res *results.Results) webservice.Ingest {
	sum := models.RunSummary{
		PID:               pid.String(),
		Scenario:          res.Summary.Scenario,
		Converged:         res.Summary.Converged,
		Strategy:          res.Summary.Strategy,
		Iterations:        res.Summary.Iterations,
		TotalGenerationMW: res.Summary.TotalGenerationMW,
		TotalLoadMW:       res.Summary.TotalLoadMW,
		TotalLossMW:       res.Summary.TotalLossMW,
	}

	buses := make([]models.BusVoltage, 0, len(res.Buses))
	for _, b := range res.Buses {
		buses = append(buses, models.BusVoltage{
			PID:   pid.String(),
			BusID: b.BusID,
			VmPU:  b.VmPU,
			VaDeg: b.VaDeg,
		})
	}
	return webservice.Ingest{Summary: sum, Buses: buses}
}
