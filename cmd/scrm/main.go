package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/config"
	"github.com/MatheusHenriquePires/S-crm/internal/app"
	"github.com/MatheusHenriquePires/S-crm/internal/driver/meow"
	"github.com/MatheusHenriquePires/S-crm/internal/store"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
	"github.com/MatheusHenriquePires/S-crm/internal/wa"
	"github.com/MatheusHenriquePires/S-crm/internal/webapi"
)

var (
	cfile   = flag.String("c", "scrm.yml", "config file")
	initdb  = flag.Bool("initdb", false, "drop and recreate all tables")
	showVer = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("scrm", version)
		return
	}

	cfg := config.LoadConfig(*cfile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	st := store.NewStore(application.DB(), cfg.DedupWindow())
	bus := EventBus.New()
	hub := stream.NewHub()
	if err := hub.BindBus(bus); err != nil {
		zap.L().Fatal("bind event bus", zap.Error(err))
	}

	svc, err := wa.New(cfg, st, meow.New(), bus, wa.NewRegistry())
	if err != nil {
		zap.L().Fatal("init whatsapp service", zap.Error(err))
	}
	defer svc.Close()

	spec := fmt.Sprintf("@every %ds", cfg.WhatsApp.HeartbeatSec)
	if _, err := application.Scheduler().AddFunc(spec, hub.Heartbeat); err != nil {
		zap.L().Fatal("schedule stream heartbeat", zap.Error(err))
	}

	server := webapi.NewServer(cfg, svc, st, hub)
	go func() {
		if err := server.Start(); err != nil {
			zap.L().Fatal("web server exited", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zap.L().Info("shutting down")
	server.Stop()
}
