package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fystack/keyspace/pkg/config"
	"github.com/fystack/keyspace/pkg/keyspace"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "keyspace",
		Usage: "Prefixed key-value and pub/sub client for a shared store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (default ./config.yaml when present)",
			},
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Store address: redis://, rediss://, unix:// or badger://",
			},
			&cli.StringFlag{
				Name:    "prefix",
				Aliases: []string{"p"},
				Usage:   "Prefix applied to every key and channel",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			mgetCommand(),
			setCommand(),
			msetCommand(),
			delCommand(),
			keysCommand(),
			countCommand(),
			incrCommand(),
			decrCommand(),
			emptyCommand(),
			publishCommand(),
			subscribeCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.AppConfig, error) {
	if err := config.InitViperConfig(cmd.String("config")); err != nil {
		return nil, err
	}
	if cmd.IsSet("address") {
		viper.Set("store.address", cmd.String("address"))
	}
	if cmd.IsSet("prefix") {
		viper.Set("store.prefix", cmd.String("prefix"))
	}
	if cmd.Bool("debug") {
		viper.Set("debug", true)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Environment, cfg.Debug)
	logger.Debug("Loaded config", "config", cfg.MarshalJSONMask())
	return cfg, nil
}

func newClient(cfg *config.AppConfig) *keyspace.Client {
	return keyspace.New(
		keyspace.WithRetryPolicy(keyspace.RetryPolicy{
			Attempts:     cfg.Retry.Attempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			MaxElapsed:   cfg.Retry.MaxElapsed,
		}),
		keyspace.WithEncryptionPassword(cfg.Badger.Password),
		keyspace.WithSyncWrites(cfg.Badger.SyncWrites),
		keyspace.WithMessageBuffer(cfg.Store.MessageBuffer),
	)
}

// withClient connects a client for the duration of fn.
func withClient(ctx context.Context, cmd *cli.Command, pubsub bool, fn func(*keyspace.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := newClient(cfg)
	if err := client.Connect(ctx, cfg.Store.Address, cfg.Store.Prefix, pubsub || cfg.Store.PubSub); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close client", err)
		}
	}()

	return fn(client)
}
