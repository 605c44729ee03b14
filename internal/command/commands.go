package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/unkn0wn-root/megacache"
	"github.com/unkn0wn-root/megacache/backend"
)

func (a *app) getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "print the value stored under KEY as JSON",
		ArgsUsage: "KEY",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key, err := requireArgs(cmd, 1)
			if err != nil {
				return err
			}
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				var v any
				ok, err := cc.Get(ctx, key[0], &v)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "(miss)")
					return ErrMiss
				}
				return a.printJSON(v)
			})
		},
	}
}

func (a *app) setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "store VALUE under KEY; integers are stored as integers unless --string",
		ArgsUsage: "KEY VALUE",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Usage: "time to live; 0 = no expiry"},
			&cli.BoolFlag{Name: "string", Usage: "always store VALUE as a string"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args, err := requireArgs(cmd, 2)
			if err != nil {
				return err
			}
			var value any = args[1]
			if !cmd.Bool("string") {
				if n, err := strconv.ParseInt(args[1], 10, 64); err == nil {
					value = n
				}
			}
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				return cc.Set(ctx, args[0], value, cmd.Duration("ttl"))
			})
		},
	}
}

func (a *app) deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"del"},
		Usage:     "remove KEY and print whether it existed",
		ArgsUsage: "KEY",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args, err := requireArgs(cmd, 1)
			if err != nil {
				return err
			}
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				existed, err := cc.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, existed)
				return nil
			})
		},
	}
}

func (a *app) counterCommand(name, usage string, sign int64) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage + " and print the result",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "by", Value: 1, Usage: "amount"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args, err := requireArgs(cmd, 1)
			if err != nil {
				return err
			}
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				var n int64
				var err error
				if sign > 0 {
					n, err = cc.Increment(ctx, args[0], cmd.Int64("by"))
				} else {
					n, err = cc.Decrement(ctx, args[0], cmd.Int64("by"))
				}
				if err != nil {
					return err
				}
				if !cc.AtomicCounters() {
					a.log.Debug("counter updated with read-modify-write; not safe against concurrent writers")
				}
				fmt.Fprintln(a.out, n)
				return nil
			})
		},
	}
}

func (a *app) flushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "delete every key the namespace ever recorded",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				return cc.Flush(ctx)
			})
		},
	}
}

func (a *app) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print global statistics (all sessions) as JSON",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				rep, err := cc.Stats(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(rep.Global)
			})
		},
	}
}

func (a *app) fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "print RESOURCE (URL or path), served from the cache when present",
		ArgsUsage: "RESOURCE",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Usage: "time to live; 0 = no expiry"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args, err := requireArgs(cmd, 1)
			if err != nil {
				return err
			}
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				b, err := cc.Fetch(ctx, args[0], cmd.Duration("ttl"))
				if err != nil {
					return err
				}
				_, err = a.out.Write(b)
				return err
			})
		},
	}
}

func (a *app) backendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "list the available backends",
		Action: func(context.Context, *cli.Command) error {
			for _, n := range backend.Names() {
				fmt.Fprintln(a.out, n)
			}
			return nil
		},
	}
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func requireArgs(cmd *cli.Command, n int) ([]string, error) {
	if cmd.NArg() != n {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", cmd.Name, n, cmd.NArg())
	}
	return cmd.Args().Slice(), nil
}
