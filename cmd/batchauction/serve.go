package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudx-io/batchauction/config"
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/events"
	"github.com/cloudx-io/batchauction/receipt"
	"github.com/cloudx-io/batchauction/server"
	"github.com/cloudx-io/batchauction/service"
	"github.com/cloudx-io/batchauction/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auction HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("auction-id", "", "auction identifier")
	flags.String("admin", "", "admin address, receives proceeds")
	flags.String("bidding-start", "", "start of the bidding window (RFC3339)")
	flags.String("bidding-end", "", "end of the bidding window (RFC3339, exclusive)")
	flags.String("min-bid-price", core.DefaultMinBidPrice.String(), "minimum price per unit in tez")
	flags.Uint64("total-supply", core.DefaultTotalSupply, "number of units on sale")
	flags.String("metadata-uri", core.DefaultMetadataURI, "metadata attached to every minted token")
	flags.String("listen-addr", ":8080", "listen address for the HTTP API")
	flags.String("data-dir", "./data", "directory for the state store")
	flags.String("receipt-key", "", "PEM file of the receipt signing key (default <data-dir>/receipt-key.pem)")
	flags.Int("workers", 64, "maximum concurrent API requests")
	flags.String("admin-token", "", "bearer token for admin API calls; empty disables them")
	flags.StringSlice("kafka-brokers", nil, "Kafka brokers; without brokers events are dropped and claims are disabled")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text or json")

	bindFlags(v, cmd, map[string]string{
		config.KeyAuctionID:    "auction-id",
		config.KeyAdmin:        "admin",
		config.KeyBiddingStart: "bidding-start",
		config.KeyBiddingEnd:   "bidding-end",
		config.KeyMinBidPrice:  "min-bid-price",
		config.KeyTotalSupply:  "total-supply",
		config.KeyMetadataURI:  "metadata-uri",
		config.KeyListenAddr:   "listen-addr",
		config.KeyDataDir:      "data-dir",
		config.KeyReceiptKey:   "receipt-key",
		config.KeyWorkers:      "workers",
		config.KeyAdminToken:   "admin-token",
		config.KeyKafkaBrokers: "kafka-brokers",
		config.KeyLogLevel:     "log-level",
		config.KeyLogFormat:    "log-format",
	})
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger).WithField("auction_id", cfg.Auction.AuctionID)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}
	st, err := store.Open(cfg.DataDir, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Error("failed to close store")
		}
	}()

	keys, err := receipt.LoadOrCreateKeyManager(cfg.ReceiptKey)
	if err != nil {
		return err
	}

	opts := service.Options{
		Config: cfg.Auction,
		Store:  st,
		Keys:   keys,
		Log:    log,
	}
	if cfg.Kafka.Enabled() {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		minter := events.NewKafkaMinter(cfg.Auction.AuctionID, cfg.Kafka.Brokers, cfg.Kafka.MintTopic, log)
		payer := events.NewKafkaPayer(cfg.Auction.AuctionID, cfg.Kafka.Brokers, cfg.Kafka.PaymentsTopic, log)
		defer closeAll(log, publisher, minter, payer)
		opts.Publisher, opts.Minter, opts.Payer = publisher, minter, payer
	} else {
		log.Warn("no kafka brokers configured: events are dropped and claims are disabled")
	}

	svc, err := service.New(opts)
	if err != nil {
		return err
	}

	srv := server.New(svc, server.Options{
		Addr:         cfg.ListenAddr,
		Workers:      cfg.Workers,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		AdminToken:   cfg.AdminToken,
	}, log)
	if cfg.AdminToken == "" {
		log.Warn("no admin token configured: metadata reveal is disabled")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type closer interface {
	Close() error
}

func closeAll(log *logrus.Entry, closers ...closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Error("failed to close kafka writer")
		}
	}
}
