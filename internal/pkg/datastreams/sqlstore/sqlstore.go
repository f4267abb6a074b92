// Package sqlstore persists finished runs into the result store serving the
// webservice. It is the write side of the store; the webservice reads.
package sqlstore

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/lib/webservice/models"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/results"
)

type Handler struct {
	mux   *sync.Mutex
	inbox <-chan msg.Msg
	pid   uuid.UUID
	store models.Store
	stop  chan bool
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

// New subscribes a store writer to the run's result events.
func New(store models.Store, system msg.Publisher) (Handler, error) {
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
		mux:   &sync.Mutex{},
		inbox: inbox,
		pid:   pid,
		store: store,
		stop:  make(chan bool),
	}, nil
}

func (h *Handler) Stop() {
	h.stop <- true
}

// Process consumes result events until stopped.
func (h Handler) Process() {
	log.Println("[SQLStore] Process Started")
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
	log.Println("[SQLStore] Process Shutdown")
}

func (h Handler) handle(m msg.Msg) {
	if m.Topic() != msg.Result {
		return
	}
	res, ok := m.Payload().(*results.Results)
	if !ok {
		return
	}

	sum, buses := storeRows(m.PID(), res)
	if err := h.store.SaveRun(sum, buses); err != nil {
		log.Println("[SQLStore] save run:", err)
		return
	}
	log.Printf("[SQLStore] stored run %v (%d buses)", m.PID(), len(buses))
}

// storeRows flattens a run report into store rows.
func storeRows(pid uuid.UUID, res *results.Results) (models.RunSummary, []models.BusVoltage) {
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
	return sum, buses
}
