package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/Vladikasik/mcm-https/app/client/graphdb"
	"github.com/Vladikasik/mcm-https/app/config"
	"github.com/Vladikasik/mcm-https/app/service/kvstore"
	"github.com/Vladikasik/mcm-https/app/service/mcpserver"
	"github.com/Vladikasik/mcm-https/app/service/memory"
	"github.com/Vladikasik/mcm-https/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, graphdb.New)
	do.Provide(di, memory.New)
	do.Provide(di, kvstore.New)
	do.Provide(di, mcpserver.New)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	slog.Info("Service started")

	if err = do.MustInvoke[*mcpserver.Service](di).Run(appCtx); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
