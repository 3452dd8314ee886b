package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	internalserver "github.com/civicworks/civicdesk/internal/server"
	"github.com/civicworks/civicdesk/modules/requests/infrastructure/idempotency"
	"github.com/civicworks/civicdesk/modules/requests/infrastructure/persistence"
	"github.com/civicworks/civicdesk/modules/requests/presentation/controllers"
	"github.com/civicworks/civicdesk/modules/requests/services"
	"github.com/civicworks/civicdesk/pkg/configuration"
	"github.com/civicworks/civicdesk/pkg/eventbus"
	"github.com/civicworks/civicdesk/pkg/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)
	requestService := services.NewRequestService(
		services.NewPgxTransactor(),
		persistence.NewRequestRepository(),
		persistence.NewEventLogRepository(),
		idempotency.NewMemoryStore(conf.Requests.IdempotencyCull, conf.Requests.IdempotencyTTL),
		bus,
		clockwork.NewRealClock(),
		conf.Requests.CodeMaxAttempts,
	)

	serverInstance := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Pool:          pool,
		Controllers: []server.Controller{
			controllers.NewRequestsAPIController(requestService),
		},
	})

	go func() {
		stop, stopCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stopCancel()
		<-stop.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := serverInstance.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown did not drain cleanly")
		}
	}()

	logger.Infof("listening on %s", conf.SocketAddress)
	if err := serverInstance.Start(conf.SocketAddress); err != nil {
		logger.WithError(err).Info("server stopped")
	}
	conf.Unload()
}
