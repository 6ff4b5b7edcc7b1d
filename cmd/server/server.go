package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/config"
	"skoll/internal/custody"
	"skoll/internal/engine"
	"skoll/internal/feed"
	"skoll/internal/logging"
	"skoll/internal/net"
	"skoll/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("unable to load config")
		os.Exit(1)
	}
	logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	policy := engine.SelfTradeSkip
	if cfg.Book.SelfTrade == "reject" {
		policy = engine.SelfTradeReject
	}
	eng := engine.New(engine.Options{
		Markets:   cfg.Markets,
		SelfTrade: policy,
		Book: book.Options{
			PriceLevels:       cfg.Book.PriceLevels,
			MaxOrdersPerLevel: cfg.Book.MaxOrdersPerLevel,
		},
	})
	eng.SetCustodian(&custody.Recorder{})

	srv := net.New(cfg.Server.Address, cfg.Server.Port, eng)

	// Every sink interested in execution events hangs off the engine
	// reporter: live sessions, the durable journal and the market feed.
	reporters := engine.MultiReporter{srv}
	if cfg.Store.Dir != "" {
		journal, err := store.Open(cfg.Store.Dir)
		if err != nil {
			log.Error().Err(err).Msg("unable to open journal")
			os.Exit(1)
		}
		defer journal.Close()
		var recovered uint64
		if err := journal.Replay(func(uint64, common.Event) error {
			recovered++
			return nil
		}); err != nil {
			log.Error().Err(err).Msg("unable to replay journal")
			os.Exit(1)
		}
		log.Info().Uint64("events", recovered).Str("dir", cfg.Store.Dir).Msg("journal opened")
		reporters = append(reporters, journal)
	}
	if len(cfg.Feed.Brokers) > 0 {
		producer := feed.NewProducer(cfg.Feed.Brokers, cfg.Feed.Topic)
		defer producer.Close()
		reporters = append(reporters, producer)
	}
	eng.SetReporter(reporters)

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
