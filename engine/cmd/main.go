package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/api"
	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/execution"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/marketdata"
	"venue-execution-engine/engine/internal/notify"
	"venue-execution-engine/engine/internal/orchestrator"
	"venue-execution-engine/engine/internal/portfolio"
	"venue-execution-engine/engine/internal/risk"
	"venue-execution-engine/engine/internal/store"
	"venue-execution-engine/engine/internal/venue"
)

const logBufferSize = 500

func main() {
	configFile := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		if _, statErr := os.Stat(*configFile); errors.Is(statErr, os.ErrNotExist) {
			fmt.Println("Creating default config file...")
			if err := config.CreateDefaultConfig(*configFile); err != nil {
				fmt.Printf("Error creating default config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Default config created at %s, fill in venue tokens and restart\n", *configFile)
			return
		}
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Printf("Engine stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(logBufferSize, logger.ParseLevel(cfg.LogLevel))
	defer func() { _ = log.Sync() }()

	bus := events.NewBus(log)
	defer bus.Close()

	var gateOpts []risk.Option
	var engineOpts []execution.Option

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.DSN, log)
		if err != nil {
			return err
		}
		defer st.Close()
		gateOpts = append(gateOpts, risk.WithPersister(st))
		engineOpts = append(engineOpts, execution.WithArchiver(st))
	}

	sinks := []notify.Sink{notify.NewLogSink(log)}
	if cfg.Notify.Enabled {
		kafkaSink, err := notify.NewKafkaSink(cfg.Notify)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	dispatcher := notify.NewDispatcher(bus, log, sinks...)

	tracker := portfolio.NewTracker(log)
	engineOpts = append(engineOpts, execution.WithPerformance(tracker))

	book := marketdata.NewBook(cfg.Orchestrator.VolatilityWindow, log)
	gateOpts = append(gateOpts,
		risk.WithPublisher(bus),
		risk.WithWinRates(tracker),
		risk.WithVolatility(book),
	)
	gate := risk.NewGate(cfg.Risk, log, gateOpts...)
	orch := orchestrator.New(cfg.Orchestrator, bus, log,
		orchestrator.WithBook(book),
		orchestrator.WithStopSource(gate),
	)
	engine := execution.NewEngine(gate, orch, bus, log, engineOpts...)

	// venues arrive sorted by priority
	for _, vc := range cfg.Venues {
		client := venue.NewClient(vc.ID, venue.OptionsFromConfig(vc), venue.WebSocketDialer{}, bus, log)
		if err := orch.Register(client, vc.Priority); err != nil {
			return err
		}
	}

	// consumers first so the balances reported on connect are not missed
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	engine.Start(ctx)
	defer engine.Stop()
	gate.Start(ctx)
	defer gate.Stop()
	orch.Start(ctx)
	defer orch.DisconnectAll()
	defer orch.Stop()

	if err := orch.ConnectAll(ctx); err != nil {
		log.Errorf("Venue connection: %v", err)
	}
	log.Infof("Engine running with %d venue(s), active venue %q", len(cfg.Venues), orch.ActiveVenue())

	if !cfg.API.Enabled {
		<-ctx.Done()
		log.Info("Shutting down")
		return nil
	}

	srv := api.NewServer(cfg.API, api.Services{
		Risk:        gate,
		Venues:      orch,
		Trader:      engine,
		Performance: tracker,
	}, log)
	err := srv.Start(ctx)
	log.Info("Shutting down")
	tracker.PrintSummary()
	return err
}
