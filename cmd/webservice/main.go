package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/ohowland/gridflow/internal/lib/webservice"
	"github.com/ohowland/gridflow/internal/lib/webservice/models"
	"github.com/ohowland/gridflow/internal/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "study configuration file (JSON)")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Webservice] configuration: %v", err)
	}
	if cfg.Store.Host == "" {
		log.Fatal("[Webservice] no result store configured")
	}

	store, err := models.NewPostgresStore(cfg.Store.Host, cfg.Store.Port,
		cfg.Store.User, cfg.Store.Password, cfg.Store.Database)
	if err != nil {
		log.Fatalf("[Webservice] result store: %v", err)
	}
	defer store.Close()

	app := &webservice.App{Store: store}

	log.Println("Starting Server on Port", *addr)
	if err := http.ListenAndServe(*addr, app.Router()); err != nil {
		log.Fatal(err)
	}
}
