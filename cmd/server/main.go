package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-backend/internal/app"
	"wallet-backend/internal/config"
	"wallet-backend/internal/db"
	"wallet-backend/internal/handlers"
	"wallet-backend/internal/router"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default config.yaml)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	if err := db.InitDB(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	container, err := app.InitializeContainer()
	if err != nil {
		log.Fatalf("❌ Failed to initialize services: %v", err)
	}

	// re-arm monitors for intents that were pending when the process last stopped
	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := container.PaymentMonitor.RecoverPending(recoverCtx); err != nil {
		log.Printf("⚠️ Pending payment recovery failed: %v", err)
	}
	cancel()

	engine := router.New(router.Deps{
		Logger:   logger,
		Payments: handlers.NewPaymentHandler(container.PaymentService, container.ConfirmationService, container.LedgerService),
		Splits:   handlers.NewSplitHandler(container.SplitTemplates, container.SplitExecution),
		Push:     container.PushService,
	})

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server shutdown error: %v", err)
	}
	container.Shutdown()
	log.Println("✅ Server stopped")
}
