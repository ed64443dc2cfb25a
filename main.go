package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/app"
	"github.com/anisnazira/halal-supply-blockchain/config"
	"github.com/anisnazira/halal-supply-blockchain/metrics"
	"github.com/anisnazira/halal-supply-blockchain/notify"
	"github.com/anisnazira/halal-supply-blockchain/repository"
	"github.com/anisnazira/halal-supply-blockchain/server"
	service_registry "github.com/anisnazira/halal-supply-blockchain/srvreg"
	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	homeDir     string
	httpPort    string
	postgresDSN string
	kafkaBroker string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/node0", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides app.toml)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Audit database DSN (overrides app.toml)")
	flag.StringVar(&kafkaBroker, "kafka-broker", "", "Kafka broker address (overrides app.toml)")
}

func main() {
	// Load Config
	flag.Parse()

	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.cometbft")
	}
	nodeConfig, err := config.LoadNode(homeDir)
	if err != nil {
		log.Fatalf("Loading node config: %v", err)
	}
	settings, err := config.LoadSettings(homeDir)
	if err != nil {
		log.Fatalf("Loading app settings: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http-port":
			settings.HTTPPort = httpPort
		case "postgres-dsn":
			settings.PostgresDSN = postgresDSN
		case "kafka-broker":
			settings.KafkaBrokers = []string{kafkaBroker}
		}
	})
	if err := settings.Validate(); err != nil {
		log.Fatalf("Invalid app settings: %v", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(nodeConfig.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Audit database and event sinks
	repo := repository.NewRepository(logger)
	var sinks []notify.Sink
	if settings.IndexerEnabled() {
		if err := repo.ConnectDB(settings.PostgresDSN); err != nil {
			log.Fatalf("Connecting audit database: %v", err)
		}
		if err := repo.Migrate(); err != nil {
			log.Fatalf("Migrating audit database: %v", err)
		}
		sinks = append(sinks, repository.NewIndexer(repo.DB(), logger))
	}
	if settings.KafkaEnabled() {
		kafkaSink, err := notify.NewKafkaSink(notify.KafkaConfig{
			Brokers: settings.KafkaBrokers,
			Topic:   settings.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("Creating kafka sink: %v", err)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{QueueSize: settings.QueueSize}, logger, m, sinks...)
	defer dispatcher.Close()

	// Initialize Badger DB
	db, err := badger.Open(badger.DefaultOptions(settings.BadgerPath))
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing database: %v", err)
		}
	}()

	// Create ABCI Application
	appConfig := &app.AppConfig{
		NodeID:        filepath.Base(homeDir),
		Administrator: settings.Administrator,
		LogAllTxs:     settings.LogAllTxs,
	}
	ledgerApp := app.NewABCIApplication(db, appConfig, logger, dispatcher, m)

	// Private Validator
	pv := privval.LoadFilePV(
		nodeConfig.PrivValidatorKeyFile(),
		nodeConfig.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(nodeConfig.NodeKeyFile())
	if err != nil {
		log.Fatalf("failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		nodeConfig,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(ledgerApp),
		nm.DefaultGenesisDocProviderFunc(nodeConfig),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(nodeConfig.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating node: %v", err)
	}

	nodeID := string(node.NodeInfo().ID())
	ledgerApp.SetNodeID(nodeID)

	// Instantiate rpc client from node
	rpcClient := cmtrpc.New(node)
	repo.SetupRpcClient(rpcClient)

	// Start CometBFT node
	if err := node.Start(); err != nil {
		log.Fatalf("Starting node: %v", err)
	}
	defer func() {
		node.Stop()
		node.Wait()
	}()

	// Initialize Service Registry
	serviceRegistry := service_registry.NewServiceRegistry(repo, logger)
	serviceRegistry.RegisterDefaultServices()

	// Start Web Server
	webserver := server.NewWebServer(
		server.Config{
			HTTPPort:       settings.HTTPPort,
			NodeID:         nodeID,
			RPCAddress:     nodeConfig.RPC.ListenAddress,
			RequestTimeout: settings.RequestTimeout,
		},
		logger,
		serviceRegistry,
		rpcClient,
		repo,
		m,
		registry,
	)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	// Create deadline to wait for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}
