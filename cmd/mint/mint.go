package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut06"
	"github.com/elnosh/starknuts/mint"
	"github.com/elnosh/starknuts/mint/config"
	"github.com/elnosh/starknuts/mint/indexer"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/manager"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/rpc"
	"github.com/elnosh/starknuts/mint/signer"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/elnosh/starknuts/mint/storage/postgres"
	"github.com/elnosh/starknuts/mint/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const dialTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:  "starknuts-mint",
		Usage: "Cashu mint settling on Starknet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "path to the configuration file",
				Required: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cliCtx *cli.Context) error {
	custom, err := config.Initialize(cliCtx.String("config"))
	if err != nil {
		return fmt.Errorf("error reading config: %v", err)
	}
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	level := mint.ParseLogLevel(custom.LogLevel)
	logger := log.NewEntry(log.StandardLogger())
	switch level {
	case mint.Debug:
		log.SetLevel(log.DebugLevel)
	case mint.Disable:
		log.SetLevel(log.PanicLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, env.DatabaseURL)
	if err != nil {
		return fmt.Errorf("error opening database: %v", err)
	}

	mintSigner, err := openSigner(ctx, env)
	if err != nil {
		db.Close()
		return err
	}
	if closer, ok := mintSigner.(io.Closer); ok {
		defer closer.Close()
	}

	source, err := liquiditySource(ctx, custom)
	if err != nil {
		db.Close()
		return err
	}

	if err := os.MkdirAll(custom.Indexer.CursorPath, 0750); err != nil {
		db.Close()
		return err
	}
	cursor, err := indexer.OpenCursorStore(custom.Indexer.CursorPath)
	if err != nil {
		db.Close()
		return fmt.Errorf("error opening indexer cursor: %v", err)
	}
	defer cursor.Close()

	publisher := pubsub.NewPubSub()
	slogger := mint.NewLogger(level)
	ix := indexer.New(
		db,
		liquidity.NewRegistry(source),
		indexer.WebsocketDialer(custom.Indexer.StreamURL, env.IndexerToken),
		cursor,
		publisher,
		indexer.Config{StartBlock: custom.Indexer.StartBlock, MaxReorgDepth: custom.Indexer.MaxReorgDepth},
		slogger,
	)

	mintConfig, err := buildMintConfig(custom, db, mintSigner, source, publisher, ix)
	if err != nil {
		db.Close()
		return err
	}
	m, err := mint.LoadMint(ctx, mintConfig)
	if err != nil {
		db.Close()
		return fmt.Errorf("error loading mint: %v", err)
	}
	defer m.Shutdown()

	observer, err := mint.NewGaugeObserver(db, prometheus.DefaultRegisterer, m.Logger())
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", env.RPCListenAddress)
	if err != nil {
		return fmt.Errorf("error listening on %v: %v", env.RPCListenAddress, err)
	}
	services := []rpc.Service{rpc.NewNodeService(m), rpc.NewAdminService(m, env.AdminToken)}
	rpcServer := rpc.NewServer(listener, services, rpc.WithLogger(logger.WithField("component", "rpc")))

	adminServer, err := manager.SetupServer(m, custom.Admin.ListenAddress, prometheus.DefaultGatherer,
		logger.WithField("component", "manager"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ix.Run(gctx)
	})
	g.Go(func() error {
		m.RunReconciler(gctx, custom.ReconcileInterval())
		return nil
	})
	g.Go(func() error {
		observer.Run(gctx, custom.GaugeInterval())
		return nil
	})
	g.Go(rpcServer.Serve)
	g.Go(adminServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		rpcServer.Shutdown()
		return adminServer.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openDB picks the storage backend from the scheme of the database url.
func openDB(ctx context.Context, databaseURL string) (storage.MintDB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		db, err := postgres.InitPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, err
		}
		db, err := sqlite.InitSQLite(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported database url '%v'", databaseURL)
}

func openSigner(ctx context.Context, env config.Env) (signer.Signer, error) {
	if len(env.SignerURL) > 0 {
		client, err := signer.Dial(ctx, env.SignerURL, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("error connecting to signer: %v", err)
		}
		return client, nil
	}
	localSigner, err := signer.NewLocalSigner(env.SignerSeedPhrase)
	if err != nil {
		return nil, fmt.Errorf("error creating signer: %v", err)
	}
	return localSigner, nil
}

func parseUnits(units []string) ([]cashu.Unit, error) {
	parsed := make([]cashu.Unit, len(units))
	for i, unit := range units {
		u, err := cashu.UnitFromString(unit)
		if err != nil {
			return nil, fmt.Errorf("invalid unit '%v' in config", unit)
		}
		parsed[i] = u
	}
	return parsed, nil
}

func liquiditySource(ctx context.Context, custom *config.Custom) (liquidity.Source, error) {
	units, err := parseUnits(custom.Mint.Units)
	if err != nil {
		return nil, err
	}

	switch custom.Liquidity.Backend {
	case "fake":
		return &liquidity.FakeBackend{}, nil
	case "starknet":
		starknetConfig := liquidity.DefaultStarknetConfig()
		starknetConfig.Units = units
		starknetConfig.CashierAccountAddress = custom.Liquidity.CashierAccountAddress
		if len(custom.Liquidity.ChainId) > 0 {
			starknetConfig.ChainId = custom.Liquidity.ChainId
		}
		if len(custom.Liquidity.InvoicePaymentContract) > 0 {
			starknetConfig.InvoicePaymentContract = custom.Liquidity.InvoicePaymentContract
		}
		for asset, contract := range custom.Liquidity.TokenContracts {
			starknetConfig.TokenContracts[cashu.Asset(asset)] = contract
		}

		cashier, err := liquidity.DialCashier(ctx, custom.Liquidity.CashierURL, starknetConfig.ChainId, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("error connecting to cashier: %v", err)
		}
		source, err := liquidity.NewStarknet(starknetConfig, cashier)
		if err != nil {
			cashier.Close()
			return nil, err
		}
		return source, nil
	}
	return nil, fmt.Errorf("unknown liquidity backend '%v'", custom.Liquidity.Backend)
}

func methodSettings(limits []config.MethodLimits) (map[mint.MethodUnit]mint.MethodSettings, error) {
	settings := make(map[mint.MethodUnit]mint.MethodSettings, len(limits))
	for _, limit := range limits {
		unit, err := cashu.UnitFromString(limit.Unit)
		if err != nil {
			return nil, fmt.Errorf("invalid unit '%v' in limits", limit.Unit)
		}
		key := mint.MethodUnit{Method: limit.Method, Unit: unit}
		settings[key] = mint.MethodSettings{MinAmount: limit.MinAmount, MaxAmount: limit.MaxAmount}
	}
	return settings, nil
}

func buildMintConfig(
	custom *config.Custom,
	db storage.MintDB,
	mintSigner signer.Signer,
	source liquidity.Source,
	publisher *pubsub.PubSub,
	ix *indexer.Indexer,
) (mint.Config, error) {
	units, err := parseUnits(custom.Mint.Units)
	if err != nil {
		return mint.Config{}, err
	}
	mintSettings, err := methodSettings(custom.Mint.MintLimits)
	if err != nil {
		return mint.Config{}, err
	}
	meltSettings, err := methodSettings(custom.Mint.MeltLimits)
	if err != nil {
		return mint.Config{}, err
	}

	var contact []nut06.ContactInfo
	for method, info := range custom.Info.Contact {
		contact = append(contact, nut06.ContactInfo{Method: method, Info: info})
	}

	return mint.Config{
		DB:         db,
		Signer:     mintSigner,
		Sources:    []liquidity.Source{source},
		Publisher:  publisher,
		Indexer:    ix,
		Units:      units,
		MaxOrder:   custom.Mint.MaxOrder,
		QuoteTTL:   custom.QuoteTTL(),
		MeltFee:    custom.Mint.MeltFee,
		MeltFeePpk: custom.Mint.MeltFeePpk,
		MintInfo: mint.MintInfo{
			Name:            custom.Info.Name,
			Description:     custom.Info.Description,
			LongDescription: custom.Info.LongDescription,
			Contact:         contact,
			Motd:            custom.Info.Motd,
			IconURL:         custom.Info.IconURL,
			URLs:            custom.Info.URLs,
		},
		Limits: mint.MintLimits{
			MintingDisabled: custom.Mint.MintingDisabled,
			MeltingDisabled: custom.Mint.MeltingDisabled,
			MintSettings:    mintSettings,
			MeltSettings:    meltSettings,
		},
		CacheTTL:      custom.CacheTTL(),
		CacheCapacity: custom.Cache.Capacity,
		LogLevel:      mint.ParseLogLevel(custom.LogLevel),
	}, nil
}
