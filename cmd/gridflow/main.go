package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ohowland/gridflow/internal/lib/webservice/models"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/database/mongodb"
	"github.com/ohowland/gridflow/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/gridflow/internal/pkg/datastreams/sqlstore"
	"github.com/ohowland/gridflow/internal/pkg/hmi"
	"github.com/ohowland/gridflow/internal/pkg/pipeline"
	"github.com/ohowland/gridflow/internal/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "study configuration file (JSON)")
	dataDir := flag.String("data", "", "override the record table directory")
	outDir := flag.String("out", "", "override the result export directory")
	scenario := flag.String("scenario", "", "named scenario to apply")
	taskList := flag.String("tasks", "", "comma separated task subset (prerequisites run too)")
	watch := flag.Bool("watch", false, "monitor the run in a terminal table")
	flag.Parse()

	log.Println("[Main] Starting GridFlow v0.1.0")

	cfg, err := buildConfig(*configPath, *dataDir, *outDir, *scenario)
	if err != nil {
		log.Fatalf("[Main] configuration: %v", err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("[Main] pipeline: %v", err)
	}

	var wg sync.WaitGroup
	if err := linkHandlers(p, cfg, &wg); err != nil {
		log.Fatalf("[Main] handlers: %v", err)
	}

	tasks := splitTasks(*taskList)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Printf("[Main] %v received, aborting", s)
		os.Exit(1)
	}()

	if *watch {
		err = runWatched(p, tasks)
	} else {
		_, err = p.Run(tasks)
	}
	wg.Wait()

	if err != nil {
		log.Fatalf("[Main] run failed: %v", err)
	}
	log.Println("[Main] Shutdown")
}

// buildConfig layers the study file and flag overrides over the defaults.
func buildConfig(path, dataDir, outDir, scenario string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if outDir != "" {
		cfg.Export.Dir = outDir
	}
	if scenario != "" {
		cfg, err = cfg.ApplyScenario(scenario)
		if err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// linkHandlers attaches every observer enabled by the configuration and
// starts its process loop. The handlers drain and exit when the run closes
// the event bus.
func linkHandlers(p *pipeline.Pipeline, cfg config.Config, wg *sync.WaitGroup) error {
	if cfg.Archive.URI != "" {
		log.Println("[Main] Connecting MongoDB archive")
		h, err := mongodb.New(cfg.Archive, p.Publisher())
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Process()
		}()
	}

	if cfg.Stream.Server != "" {
		log.Println("[Main] Connecting NATS stream")
		h, err := natshandler.New(cfg.Stream, p.Publisher())
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Process()
		}()
	}

	if cfg.Store.Host != "" {
		log.Println("[Main] Connecting Postgres result store")
		store, err := models.NewPostgresStore(cfg.Store.Host, cfg.Store.Port,
			cfg.Store.User, cfg.Store.Password, cfg.Store.Database)
		if err != nil {
			return err
		}
		h, err := sqlstore.New(store, p.Publisher())
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Process()
			store.Close()
		}()
	}

	if cfg.Remote.URL != "" {
		log.Println("[Main] Connecting remote results service")
		h, err := web.New(cfg.Remote, p.Publisher())
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Process()
		}()
	}

	return nil
}

// runWatched keeps the terminal table up until the operator quits, even
// after the run finishes.
func runWatched(p *pipeline.Pipeline, tasks []string) error {
	mon, err := hmi.New(p.Publisher())
	if err != nil {
		return err
	}
	go mon.Process()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(tasks)
		errCh <- err
	}()

	if err := mon.Run(); err != nil {
		return err
	}
	return <-errCh
}

func splitTasks(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	tasks := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			tasks = append(tasks, name)
		}
	}
	return tasks
}
