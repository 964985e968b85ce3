// Package app assembles repositories, clients, and services into one container.
package app

import (
	"fmt"
	"log"
	"sync"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/clients"
	"wallet-backend/internal/config"
	"wallet-backend/internal/db"
	"wallet-backend/internal/models"
	"wallet-backend/internal/repository"
	"wallet-backend/internal/services"

	"gorm.io/gorm"
)

// ServiceContainer dependency container for the whole backend
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	PaymentRepo repository.PaymentRepository
	SplitRepo   repository.SplitRepository
	LedgerRepo  repository.LedgerRepository
	UserRepo    repository.UserRepository

	// Chain adapters
	Registry *chains.Registry

	// External clients
	SignerClient   *clients.SignerClient
	NotifierClient *clients.NotifierClient

	// Core services
	ConfirmationService *services.ConfirmationService
	PaymentMonitor      *services.PaymentMonitorService
	PaymentService      *services.PaymentService
	SplitTemplates      *services.SplitTemplateService
	SplitExecution      *services.SplitExecutionService
	LedgerService       *services.LedgerService
	PushService         *services.WebSocketPushService
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")
		container := &ServiceContainer{DB: db.DB}

		container.initRepositories()
		container.initAdapters()

		if err := container.initClients(); err != nil {
			initErr = fmt.Errorf("failed to initialize clients: %w", err)
			return
		}
		container.initServices()

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})
	return Container, initErr
}

func (c *ServiceContainer) initRepositories() {
	log.Println("📦 Initializing Repositories...")
	c.PaymentRepo = repository.NewPaymentRepository(c.DB)
	c.SplitRepo = repository.NewSplitRepository(c.DB)
	c.LedgerRepo = repository.NewLedgerRepository(c.DB)
	c.UserRepo = repository.NewUserRepository(c.DB)
}

// initAdapters registers one adapter per chain tag. The EVM adapter serves three
// tags; every other chain has its own.
func (c *ServiceContainer) initAdapters() {
	log.Println("⛓️ Initializing Chain Adapters...")
	c.Registry = chains.NewRegistry()
	c.Registry.Register(models.ChainEthereum, chains.NewEthereumAdapter(models.ChainEthereum))
	c.Registry.Register(models.ChainERC20, chains.NewEthereumAdapter(models.ChainERC20))
	c.Registry.Register(models.ChainBNB, chains.NewEthereumAdapter(models.ChainBNB))
	c.Registry.Register(models.ChainBitcoin, chains.NewBitcoinAdapter())
	c.Registry.Register(models.ChainSolana, chains.NewSolanaAdapter())
	c.Registry.Register(models.ChainStellar, chains.NewStellarAdapter())
	c.Registry.Register(models.ChainPolkadot, chains.NewPolkadotAdapter())
	c.Registry.Register(models.ChainStarknet, chains.NewStarknetAdapter())
}

func (c *ServiceContainer) initClients() error {
	log.Println("🔌 Initializing External Clients...")
	c.SignerClient = clients.NewSignerClient(config.AppConfig.Signer)

	notifier, err := clients.NewNotifierClient(config.AppConfig.NATS)
	if err != nil {
		// notifications are fire-and-forget; run without them rather than refuse to start
		log.Printf("⚠️ NATS unavailable, notifications disabled: %v", err)
		return nil
	}
	c.NotifierClient = notifier
	return nil
}

func (c *ServiceContainer) initServices() {
	log.Println("🧩 Initializing Services...")

	// the Notifier interface is satisfied by a nil-safe wrapper when NATS is down
	var notifier services.Notifier
	if c.NotifierClient != nil {
		notifier = c.NotifierClient
	}

	c.ConfirmationService = services.NewConfirmationService(c.PaymentRepo, c.LedgerRepo, c.Registry, notifier)
	c.PaymentMonitor = services.NewPaymentMonitorService(c.ConfirmationService, c.PaymentRepo, config.AppConfig.Monitor.IntervalSeconds)
	c.PaymentService = services.NewPaymentService(c.PaymentRepo, c.Registry, c.PaymentMonitor)
	c.SplitTemplates = services.NewSplitTemplateService(c.SplitRepo, c.Registry)
	c.SplitExecution = services.NewSplitExecutionService(c.SplitRepo, c.UserRepo, c.Registry, c.SignerClient, notifier)
	c.LedgerService = services.NewLedgerService(c.LedgerRepo)
	if c.NotifierClient != nil {
		c.PushService = services.NewWebSocketPushService(c.NotifierClient)
	}
}

// Shutdown stops background work and closes connections
func (c *ServiceContainer) Shutdown() {
	if c.PaymentMonitor != nil {
		c.PaymentMonitor.Stop()
	}
	if c.NotifierClient != nil {
		c.NotifierClient.Close()
	}
}
