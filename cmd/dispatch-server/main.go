package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/avolkens/device-dispatch-backend/cmd/flags"
	"github.com/avolkens/device-dispatch-backend/coordstore"
	"github.com/avolkens/device-dispatch-backend/dispatch"
	"github.com/avolkens/device-dispatch-backend/httpserver"
	"github.com/avolkens/device-dispatch-backend/liveness"
	"github.com/avolkens/device-dispatch-backend/locker"
	"github.com/avolkens/device-dispatch-backend/registry"
	"github.com/avolkens/device-dispatch-backend/taskqueue"
)

var serverFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	flags.StoreURIFlag,
	flags.RegistryURIFlag,
	flags.LockTTLFlag,
	flags.LockPollFlag,
	flags.LockGraceFlag,
	flags.LogServiceFlagFn("dispatch-server"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "dispatch-server",
		Usage: "Serve the device command dispatch API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			storeURI := cCtx.String(flags.StoreURIFlag.Name)
			registryURI := cCtx.String(flags.RegistryURIFlag.Name)
			listenAddr := cCtx.String("listen-addr")

			store, err := coordstore.NewStoreFactory(logger).StoreFor(storeURI)
			if err != nil {
				logger.Error("Failed to create coordination store", "err", err)
				return err
			}
			if err := store.Ping(cCtx.Context); err != nil {
				logger.Error("Coordination store unreachable", "err", err)
				return err
			}
			logger.Info("Coordination store connected", "store", store.Name())

			keyRegistry, err := registry.NewRegistryFactory(logger).RegistryFor(registryURI)
			if err != nil {
				logger.Error("Failed to create key registry", "err", err)
				return err
			}
			logger.Info("Key registry configured", "registry", keyRegistry.Name())

			locks := locker.New(store, locker.Config{
				TTL:          cCtx.Duration(flags.LockTTLFlag.Name),
				PollInterval: cCtx.Duration(flags.LockPollFlag.Name),
				Grace:        cCtx.Duration(flags.LockGraceFlag.Name),
			}, logger)
			queue := taskqueue.New(store, logger)
			tasks := dispatch.NewTaskStore(store, logger)
			dispatcher := dispatch.New(keyRegistry, locks, queue, tasks, logger)
			verifier := liveness.New(keyRegistry, liveness.NewReportStore(store, logger), logger)

			handler := httpserver.NewHandler(dispatcher, queue, tasks, verifier, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			notifier := make(chan os.Signal, 1)
			signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
			<-notifier
			logger.Info("Shutting down...")

			server.Shutdown()
			return nil
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
