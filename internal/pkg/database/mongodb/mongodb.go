// Package mongodb archives finished runs in the upstream data platform:
// one document per run in studyRuns, one document per bus voltage in
// busVoltages, both upserted so a re-run of the same study replaces its
// earlier results.
package mongodb

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/results"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config.Archive
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

// New subscribes an archive handler to the run's result events.
func New(cfg config.Archive, system msg.Publisher) (Handler, error) {
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
		stop:   make(chan bool),
	}, nil
}

// summaryDocument is the studyRuns upsert body.
func summaryDocument(pid uuid.UUID, sum results.Summary) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":                 pid.String(),
			"scenario":            sum.Scenario,
			"converged":           sum.Converged,
			"strategy":            sum.Strategy,
			"iterations":          sum.Iterations,
			"total_generation_mw": sum.TotalGenerationMW,
			"total_load_mw":       sum.TotalLoadMW,
			"total_loss_mw":       sum.TotalLossMW,
			"warnings":            sum.Warnings,
			"archived_at":         time.Now().UTC(),
		}},
	}
}

// busDocument is the busVoltages upsert body.
func busDocument(pid uuid.UUID, b results.Bus) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":        pid.String(),
			"bus_id":     b.BusID,
			"voltage_kv": b.VoltageKV,
			"vm_pu":      b.VmPU,
			"va_deg":     b.VaDeg,
		}},
	}
}

func (h *Handler) Stop() {
	h.stop <- true
}

// Process consumes result events until stopped. Archive failures are logged
// and skipped; the archive never fails a run.
func (h Handler) Process() {
	log.Println("[Mongo] Process Started")
	uri := h.config.URI
	if h.config.Port != "" {
		uri = uri + ":" + h.config.Port
	}
	client, err := mongo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		log.Println("[Mongo]", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		log.Println("[Mongo]", err)
		return
	}
	defer client.Disconnect(context.Background())

loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			if m.Topic() != msg.Result {
				continue
			}
			res, ok := m.Payload().(*results.Results)
			if !ok {
				continue
			}
			h.archive(context.Background(), client, m.PID(), res)

		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}

func (h Handler) archive(ctx context.Context, client *mongo.Client, pid uuid.UUID, res *results.Results) {
	db := client.Database(h.config.Database)
	opts := options.Update().SetUpsert(true)

	_, err := db.Collection("studyRuns").UpdateOne(
		ctx,
		bson.M{"pid": pid.String()},
		summaryDocument(pid, res.Summary),
		opts,
	)
	if err != nil {
		log.Println("[Mongo] studyRuns upsert:", err)
		return
	}

	for _, b := range res.Buses {
		_, err := db.Collection("busVoltages").UpdateOne(
			ctx,
			bson.M{"pid": pid.String(), "bus_id": b.BusID},
			busDocument(pid, b),
			opts,
		)
		if err != nil {
			log.Println("[Mongo] busVoltages upsert:", err)
			return
		}
	}
	log.Printf("[Mongo] archived run %v (%d buses)", pid, len(res.Buses))
}
