package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/elnosh/starknuts/mint/rpc"
	"github.com/elnosh/starknuts/mint/signer"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "starknuts-signer",
		Usage: "key holding signer for a starknuts mint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "address to serve the signer rpc on",
				Value:   "127.0.0.1:3339",
				EnvVars: []string{"SIGNER_LISTEN_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "seed",
				Usage:   "bip39 mnemonic the keysets are derived from",
				EnvVars: []string{"SIGNER_SEED_PHRASE"},
			},
		},
		Before: func(ctx *cli.Context) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("error loading .env file: %v", err)
			}
			return nil
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "mnemonic",
				Usage: "Generate a new seed phrase",
				Action: func(ctx *cli.Context) error {
					mnemonic, err := signer.NewMnemonic()
					if err != nil {
						return err
					}
					fmt.Println(mnemonic)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cliCtx *cli.Context) error {
	// flags bound to env vars are read before godotenv runs
	seed := cliCtx.String("seed")
	if len(seed) == 0 {
		seed = os.Getenv("SIGNER_SEED_PHRASE")
	}
	if len(seed) == 0 {
		return errors.New("a seed phrase is required")
	}

	localSigner, err := signer.NewLocalSigner(seed)
	if err != nil {
		return err
	}
	rootPubkey, err := localSigner.RootPubkey(cliCtx.Context)
	if err != nil {
		return err
	}

	address := cliCtx.String("listen")
	if envAddress := os.Getenv("SIGNER_LISTEN_ADDRESS"); !cliCtx.IsSet("listen") && len(envAddress) > 0 {
		address = envAddress
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("error listening on %v: %v", address, err)
	}

	logger := log.WithField("component", "signer")
	server := rpc.NewServer(listener, []rpc.Service{signer.NewService(localSigner)}, rpc.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		server.Shutdown()
	}()

	logger.WithFields(log.Fields{"address": address, "root_pubkey": rootPubkey}).Info("serving signer")
	return server.Serve()
}
