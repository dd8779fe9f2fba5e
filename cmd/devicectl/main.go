package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/avolkens/device-dispatch-backend/cmd/flags"
	"github.com/avolkens/device-dispatch-backend/coordstore"
	"github.com/avolkens/device-dispatch-backend/cryptoutils"
	"github.com/avolkens/device-dispatch-backend/dispatch"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/taskqueue"
)

func main() {
	app := &cli.App{
		Name:  "devicectl",
		Usage: "Device-side tooling for the command dispatch service",
		Commands: []*cli.Command{
			keygenCommand(),
			proveCommand(),
			simulateCommand(),
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// keygenCommand emits a fresh device key pair in the directory layout
// the file registry reads: <out>/<device>/public.pem and private.pem.
func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a device RSA key pair",
		Flags: []cli.Flag{
			flags.DeviceFlag,
			&cli.StringFlag{
				Name:  "out",
				Value: "./device-keys",
				Usage: "registry root directory to write the pair into",
			},
		},
		Action: func(cCtx *cli.Context) error {
			deviceID, err := interfaces.NewDeviceID(cCtx.String(flags.DeviceFlag.Name))
			if err != nil {
				return err
			}

			public, private, err := cryptoutils.GenerateDeviceKeyPair()
			if err != nil {
				return err
			}

			dir := filepath.Join(cCtx.String("out"), deviceID.String())
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, "public.pem"), public, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, "private.pem"), private, 0o600); err != nil {
				return err
			}

			fmt.Printf("wrote %s/{public.pem,private.pem}\n", dir)
			return nil
		},
	}
}

// proveCommand produces the base64 plaintext/cipher pair a reporter
// submits to POST /api/devices/{device_id}/reports.
func proveCommand() *cli.Command {
	return &cli.Command{
		Name:  "prove",
		Usage: "Produce a liveness challenge pair from a device public key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "pubkey",
				Required: true,
				Usage:    "path to the device public key PEM",
			},
		},
		Action: func(cCtx *cli.Context) error {
			pem, err := os.ReadFile(cCtx.String("pubkey"))
			if err != nil {
				return err
			}

			plaintext := make([]byte, 32)
			if _, err := rand.Read(plaintext); err != nil {
				return err
			}

			cipher, err := cryptoutils.EncryptWithPublicKey(interfaces.DevicePubkey(pem), plaintext)
			if err != nil {
				return err
			}

			fmt.Printf("plaintext_b64: %s\n", base64.StdEncoding.EncodeToString(plaintext))
			fmt.Printf("cipher_b64:    %s\n", base64.StdEncoding.EncodeToString(cipher))
			return nil
		},
	}
}

// simulateCommand runs the device half of the dispatch protocol against
// a coordination store: subscribe to the key channel, consume the queue
// on each announcement, unwrap the one-time key, open the sealed script
// with it, and print the result.
func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Simulate a device consuming its task queue",
		Flags: append([]cli.Flag{
			flags.DeviceFlag,
			flags.StoreURIFlag,
			&cli.StringFlag{
				Name:     "privkey",
				Required: true,
				Usage:    "path to the device private key PEM",
			},
			flags.LogServiceFlagFn("devicectl"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			deviceID, err := interfaces.NewDeviceID(cCtx.String(flags.DeviceFlag.Name))
			if err != nil {
				return err
			}
			privPEM, err := os.ReadFile(cCtx.String("privkey"))
			if err != nil {
				return err
			}
			private := interfaces.DevicePrivkey(privPEM)

			store, err := coordstore.NewStoreFactory(logger).StoreFor(cCtx.String(flags.StoreURIFlag.Name))
			if err != nil {
				return err
			}
			if err := store.Ping(cCtx.Context); err != nil {
				return err
			}

			queue := taskqueue.New(store, logger)
			tasks := dispatch.NewTaskStore(store, logger)

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			sub, err := queue.SubscribeKeys(ctx, deviceID)
			if err != nil {
				return err
			}
			defer sub.Close()

			notifier := make(chan os.Signal, 1)
			signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)

			logger.Info("Waiting for task announcements", "device", deviceID.String())
			for {
				select {
				case wrapped, open := <-sub.Keys():
					if !open {
						return nil
					}
					key, err := cryptoutils.DecryptWithPrivateKey(private, wrapped)
					if err != nil {
						logger.Error("Failed to unwrap task key", "err", err)
						continue
					}

					taskID, ok, err := queue.Consume(ctx, deviceID)
					if err != nil {
						logger.Error("Queue consume failed", "err", err)
						continue
					}
					if !ok {
						logger.Warn("Key announced but queue empty")
						continue
					}

					task, err := tasks.Get(ctx, taskID)
					if err != nil {
						logger.Error("Task lookup failed", "task", taskID.String(), "err", err)
						continue
					}

					// GCM authentication fails here unless the unwrapped
					// key is the one the task was sealed under.
					script, err := cryptoutils.OpenPayload(key, task.SealedScript)
					if err != nil {
						logger.Error("Failed to open sealed script", "task", taskID.String(), "err", err)
						continue
					}

					logger.Info("Task received",
						"task", taskID.String(),
						"sequence", task.Sequence,
						"cwd", task.ExecutionCwd,
						"script", string(script))
				case <-notifier:
					logger.Info("Shutting down...")
					return nil
				}
			}
		},
	}
}
