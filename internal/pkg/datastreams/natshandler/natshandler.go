// Package natshandler streams pipeline progress over NATS so operators can
// follow long studies from the message fabric. Each run publishes on its
// own subject under the gridflow.run hierarchy.
package natshandler

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/msg"

	nats "github.com/nats-io/nats.go"
)

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config.Stream
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

// New subscribes a stream handler to the run's progress events.
func New(cfg config.Stream, system msg.Publisher) (Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	chProgress, err := system.Subscribe(pid, msg.Progress)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chProgress, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// subjectFor scopes a run's progress stream.
func subjectFor(pid uuid.UUID) string {
	return "gridflow.run." + pid.String()
}

func (h *Handler) Stop() {
	h.stop <- true
}

// Process forwards progress events to the NATS server until stopped.
func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	server := h.config.Server
	if server == "" {
		server = nats.DefaultURL
	}
	nc, err := nats.Connect(server)
	if err != nil {
		log.Println("[NATS client]", err)
		return
	}
	defer nc.Close()

loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			if m.Topic() != msg.Progress {
				continue
			}
			data, err := json.Marshal(m.Payload())
			if err != nil {
				continue
			}
			if err := nc.Publish(subjectFor(m.PID()), data); err != nil {
				log.Printf("[NATS client] unable to publish: %v", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
}
