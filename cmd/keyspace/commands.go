package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/fystack/keyspace/pkg/keyspace"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/fystack/keyspace/pkg/monitor"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func requireArgs(cmd *cli.Command, n int) error {
	if cmd.NArg() < n {
		return fmt.Errorf("%s: expected at least %d argument(s), usage: %s %s", cmd.Name, n, cmd.Name, cmd.ArgsUsage)
	}
	return nil
}

func printValue(v keyspace.Value) {
	if !v.Found {
		fmt.Println("(nil)")
		return
	}
	fmt.Println(v.Data)
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the value of a key",
		ArgsUsage: "KEY",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				v, err := c.Get(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				printValue(v)
				return nil
			})
		},
	}
}

func mgetCommand() *cli.Command {
	return &cli.Command{
		Name:      "mget",
		Usage:     "Print the values of several keys, or of every key matching --pattern",
		ArgsUsage: "[KEY...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Usage: "Glob pattern selecting the keys"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				if !cmd.IsSet("pattern") {
					pairs, err := c.GetManyOrdered(ctx, cmd.Args().Slice())
					if err != nil {
						return err
					}
					for _, kv := range pairs {
						fmt.Printf("%s\t", kv.Key)
						printValue(kv.Value)
					}
					return nil
				}

				values, err := c.GetManyByPattern(ctx, cmd.String("pattern"))
				if err != nil {
					return err
				}
				keys := lo.Keys(values)
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Printf("%s\t", k)
					printValue(values[k])
				}
				return nil
			})
		},
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store a value",
		ArgsUsage: "KEY VALUE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2); err != nil {
				return err
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				return c.Set(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			})
		},
	}
}

func msetCommand() *cli.Command {
	return &cli.Command{
		Name:      "mset",
		Usage:     "Store several values in one round trip",
		ArgsUsage: "KEY VALUE [KEY VALUE...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("mset: expected KEY VALUE pairs")
			}
			pairs := make(map[string]any, len(args)/2)
			for _, kv := range lo.Chunk(args, 2) {
				pairs[kv[0]] = kv[1]
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				return c.SetMany(ctx, pairs)
			})
		},
	}
}

func delCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Usage:     "Delete keys, or every key matching --pattern",
		ArgsUsage: "[KEY...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Usage: "Glob pattern selecting the keys"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				var (
					n   int64
					err error
				)
				if cmd.IsSet("pattern") {
					n, err = c.DelWithPattern(ctx, cmd.String("pattern"))
				} else {
					n, err = c.Del(ctx, cmd.Args().Slice()...)
				}
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:      "keys",
		Usage:     "List keys matching a glob pattern",
		ArgsUsage: "[PATTERN]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				keys, err := c.Keys(ctx, patternArg(cmd))
				if err != nil {
					return err
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	}
}

func countCommand() *cli.Command {
	return &cli.Command{
		Name:      "count",
		Usage:     "Count keys matching a glob pattern",
		ArgsUsage: "[PATTERN]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				n, err := c.Count(ctx, patternArg(cmd))
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func patternArg(cmd *cli.Command) string {
	if cmd.NArg() == 0 {
		return "*"
	}
	return cmd.Args().First()
}

func incrCommand() *cli.Command {
	return counterCommand("incr", "Increment the integer at a key", (*keyspace.Client).IncrBy)
}

func decrCommand() *cli.Command {
	return counterCommand("decr", "Decrement the integer at a key", (*keyspace.Client).DecrBy)
}

func counterCommand(name, usage string, apply func(*keyspace.Client, context.Context, string, int64) (int64, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "KEY [DELTA]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			delta := int64(1)
			if cmd.NArg() > 1 {
				d, err := strconv.ParseInt(cmd.Args().Get(1), 10, 64)
				if err != nil {
					return fmt.Errorf("%s: invalid delta: %w", name, err)
				}
				delta = d
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				n, err := apply(c, ctx, cmd.Args().First(), delta)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func emptyCommand() *cli.Command {
	return &cli.Command{
		Name:  "empty",
		Usage: "Delete every key under the prefix",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the deletion"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if !cmd.Bool("yes") {
				return errors.New("empty: refusing to delete without --yes")
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				if c.Prefix() == "" {
					logger.Warn("Emptying with an empty prefix deletes every key in the store")
				}
				n, err := c.Empty(ctx)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a message on a channel",
		ArgsUsage: "CHANNEL MESSAGE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2); err != nil {
				return err
			}
			return withClient(ctx, cmd, false, func(c *keyspace.Client) error {
				n, err := c.Publish(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Print messages published on channels until interrupted",
		ArgsUsage: "CHANNEL...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withClient(ctx, cmd, true, func(c *keyspace.Client) error {
				for _, channel := range cmd.Args().Slice() {
					channel := channel
					err := c.Subscribe(ctx, channel, func(message string) {
						fmt.Printf("%s\t%s\n", channel, message)
					})
					if err != nil {
						return err
					}
				}
				logger.Info("Listening", "channels", cmd.Args().Slice(), "prefix", c.Prefix())
				<-ctx.Done()
				return nil
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Hold a connection open and expose its counters over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "HTTP listen address (overrides monitor.listen)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			listen := cfg.Monitor.Listen
			if cmd.IsSet("listen") {
				listen = cmd.String("listen")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newClient(cfg)
			if err := client.Connect(ctx, cfg.Store.Address, cfg.Store.Prefix, cfg.Store.PubSub); err != nil {
				return err
			}

			server := monitor.NewServer(listen, client)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("Monitor listening", "addr", listen)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Warn("Shutting down monitor")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			if cerr := client.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
}
