package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bjo163/wagate/config"
	"github.com/bjo163/wagate/internal/adminapi"
	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/media"
	"github.com/bjo163/wagate/internal/wameow"
	"github.com/bjo163/wagate/internal/webhook"
	"github.com/bjo163/wagate/internal/webserver"
	"github.com/bjo163/wagate/internal/whatsapp"
)

var (
	h        bool
	x        bool
	initdb   bool
	conffile string
)

func init() {
	flag.BoolVar(&h, "h", false, "help usage")
	flag.BoolVar(&x, "x", false, "debug mode")
	flag.BoolVar(&initdb, "initdb", false, "drop and recreate the database schema")
	flag.StringVar(&conffile, "c", "/etc/wagate.yml", "config file")
}

func main() {
	flag.Parse()
	if h {
		fmt.Fprintf(os.Stderr, "Usage: wagate [-h] [-x] [-initdb] [-c config]\n")
		flag.PrintDefaults()
		return
	}

	cfg := config.LoadConfig(conffile)
	if x {
		cfg.System.Debug = true
		cfg.Logger.Mode = "development"
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	storage, err := media.NewStorage(context.Background(), cfg.Storage)
	if err != nil {
		zap.L().Fatal("storage init failed", zap.Error(err))
	}
	resolver := media.NewResolver(storage, cfg.Storage.Namespace)

	notifier := webhook.NewNotifier(application)
	retrySvc := webhook.NewRetryService(notifier)
	go retrySvc.StartDaemon()
	defer retrySvc.Stop()

	factory, err := wameow.NewFactory(application)
	if err != nil {
		zap.L().Fatal("whatsmeow store init failed", zap.Error(err))
	}

	service := whatsapp.NewService(application, factory, notifier, resolver)
	go service.LoadActiveSessions(context.Background())

	webserver.Init(application)
	adminapi.InitRouter(service)

	errChan := make(chan error, 1)
	go func() { errChan <- webserver.Listen() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		zap.L().Error("web server stopped", zap.Error(err))
	case sig := <-sigChan:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
	}

	service.Shutdown()
	time.Sleep(200 * time.Millisecond)
}
