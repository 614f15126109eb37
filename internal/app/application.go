// Package app wires the domain services to their stores and manages the
// application lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openshelf/library-service/internal/app/services/catalog"
	categoriessvc "github.com/openshelf/library-service/internal/app/services/categories"
	"github.com/openshelf/library-service/internal/app/services/identity"
	"github.com/openshelf/library-service/internal/app/services/lending"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/app/storage/memory"
	"github.com/openshelf/library-service/internal/app/system"
	"github.com/openshelf/library-service/internal/logging"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Books      storage.BookStore
	Users      storage.UserStore
	Categories storage.CategoryStore
	Loans      storage.LoanStore
	Tx         storage.TxRunner
}

// Auth holds the token-issuing configuration for the identity service.
type Auth struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Lending    *lending.Service
	Catalog    *catalog.Service
	Categories *categoriessvc.Service
	Identity   *identity.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, auth Auth, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	if auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if auth.TokenTTL <= 0 {
		auth.TokenTTL = 24 * time.Hour
	}

	mem := memory.New()
	if stores.Books == nil {
		stores.Books = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Categories == nil {
		stores.Categories = mem
	}
	if stores.Loans == nil {
		stores.Loans = mem
	}
	if stores.Tx == nil {
		stores.Tx = mem
	}

	manager := system.NewManager()

	lendingService := lending.New(stores.Users, stores.Loans, stores.Tx, log)
	catalogService := catalog.New(stores.Books, stores.Categories, stores.Tx, log)
	categoriesService := categoriessvc.New(stores.Categories, log)
	identityService := identity.New(stores.Users, auth.JWTSecret, auth.TokenTTL, log)

	for _, name := range []string{"lending", "catalog", "categories", "identity"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Lending:    lendingService,
		Catalog:    catalogService,
		Categories: categoriesService,
		Identity:   identityService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
