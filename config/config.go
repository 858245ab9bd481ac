// Package config loads service configuration from flags, environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cloudx-io/batchauction/core"
)

// EnvPrefix prefixes every environment variable, e.g. BATCHAUCTION_AUCTION_ADMIN.
const EnvPrefix = "BATCHAUCTION"

// Keys. Nested keys map to environment variables with "." and "-" replaced by "_".
const (
	KeyAuctionID     = "auction.id"
	KeyAdmin         = "auction.admin"
	KeyBiddingStart  = "auction.bidding-start"
	KeyBiddingEnd    = "auction.bidding-end"
	KeyMinBidPrice   = "auction.min-bid-price"
	KeyTotalSupply   = "auction.total-supply"
	KeyMetadataURI   = "auction.metadata-uri"
	KeyListenAddr    = "listen-addr"
	KeyDataDir       = "data-dir"
	KeyReceiptKey    = "receipt-key"
	KeyAdminToken    = "admin-token"
	KeyWorkers       = "workers"
	KeyReadTimeout   = "http.read-timeout"
	KeyWriteTimeout  = "http.write-timeout"
	KeyKafkaBrokers  = "kafka.brokers"
	KeyEventsTopic   = "kafka.events-topic"
	KeyMintTopic     = "kafka.mint-topic"
	KeyPaymentsTopic = "kafka.payments-topic"
	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
)

type KafkaConfig struct {
	Brokers       []string
	EventsTopic   string
	MintTopic     string
	PaymentsTopic string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type Config struct {
	Auction core.Config

	ListenAddr   string
	DataDir      string
	ReceiptKey   string
	Workers      int

	// AdminToken authorises admin-only API calls. Empty disables them.
	AdminToken string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Kafka KafkaConfig
	Log   LogConfig
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyMinBidPrice, core.DefaultMinBidPrice.String())
	v.SetDefault(KeyTotalSupply, core.DefaultTotalSupply)
	v.SetDefault(KeyMetadataURI, core.DefaultMetadataURI)
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyWorkers, 64)
	v.SetDefault(KeyReadTimeout, 10*time.Second)
	v.SetDefault(KeyWriteTimeout, 30*time.Second)
	v.SetDefault(KeyEventsTopic, "batchauction.events")
	v.SetDefault(KeyMintTopic, "batchauction.mints")
	v.SetDefault(KeyPaymentsTopic, "batchauction.payments")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	return v
}

// Load reads the optional config file and builds a validated Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	start, err := parseTime(v, KeyBiddingStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(v, KeyBiddingEnd)
	if err != nil {
		return nil, err
	}
	minBidPrice, err := core.ParseTez(v.GetString(KeyMinBidPrice))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, KeyMinBidPrice, err)
	}

	cfg := &Config{
		Auction: core.Config{
			AuctionID:     v.GetString(KeyAuctionID),
			Admin:         core.Address(v.GetString(KeyAdmin)),
			BiddingStart:  start,
			BiddingEnd:    end,
			MinBidPrice:   minBidPrice,
			TotalSupply:   v.GetUint64(KeyTotalSupply),
			TokenMetadata: map[string][]byte{"": []byte(v.GetString(KeyMetadataURI))},
		},
		ListenAddr:   v.GetString(KeyListenAddr),
		DataDir:      v.GetString(KeyDataDir),
		ReceiptKey:   v.GetString(KeyReceiptKey),
		AdminToken:   v.GetString(KeyAdminToken),
		Workers:      v.GetInt(KeyWorkers),
		ReadTimeout:  v.GetDuration(KeyReadTimeout),
		WriteTimeout: v.GetDuration(KeyWriteTimeout),
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetStringSlice(KeyKafkaBrokers)),
			EventsTopic:   v.GetString(KeyEventsTopic),
			MintTopic:     v.GetString(KeyMintTopic),
			PaymentsTopic: v.GetString(KeyPaymentsTopic),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
	if cfg.ReceiptKey == "" {
		cfg.ReceiptKey = cfg.DataDir + "/receipt-key.pem"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the service settings and the auction parameters.
func (c *Config) Validate() error {
	if c.Auction.AuctionID == "" {
		return fmt.Errorf("%w: %s is required", core.ErrInvalidConfig, KeyAuctionID)
	}
	if err := c.Auction.Validate(); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %s must be positive", core.ErrInvalidConfig, KeyWorkers)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: %s is required", core.ErrInvalidConfig, KeyDataDir)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, KeyLogLevel, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: %s must be text or json, got %q", core.ErrInvalidConfig, KeyLogFormat, c.Log.Format)
	}
	return nil
}

// NewLogger builds the root logger.
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

func parseTime(v *viper.Viper, key string) (time.Time, error) {
	raw := v.GetString(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", core.ErrInvalidConfig, key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfig, key, err)
	}
	return t, nil
}

// splitList accepts both repeated values and a single comma separated value,
// which is how lists arrive from the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
