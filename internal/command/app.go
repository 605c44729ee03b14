// Package command implements the megacache command line.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/megacache"
	"github.com/unkn0wn-root/megacache/backend"
	"github.com/unkn0wn-root/megacache/config"
	"github.com/unkn0wn-root/megacache/fetch"
	mczap "github.com/unkn0wn-root/megacache/log/zap"
)

// ErrMiss is returned by get for an absent key so main can exit non-zero.
var ErrMiss = errors.New("miss")

// Options wires the app to its environment.
type Options struct {
	Out io.Writer   // nil => os.Stdout
	Log *zap.Logger // nil => stderr logger, debug level with --verbose
}

type app struct {
	out io.Writer
	log *zap.Logger
}

// New returns the root command.
func New(opts Options) *cli.Command {
	a := &app{out: opts.Out, log: opts.Log}
	if a.out == nil {
		a.out = os.Stdout
	}

	root := &cli.Command{
		Name:      "megacache",
		Usage:     "inspect and exercise a megacache namespace",
		Writer:    a.out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars("MEGACACHE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "backend name, overrides the configuration",
				Sources: cli.EnvVars("MEGACACHE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "cache name (namespace), overrides the configuration",
				Sources: cli.EnvVars("MEGACACHE_NAME"),
			},
			&cli.StringFlag{Name: "dir", Usage: "directory for the file backend"},
			&cli.StringFlag{Name: "dsn", Usage: "DSN (or sqlite path) for the SQL backends"},
			&cli.StringSliceFlag{Name: "redis", Usage: "redis address; repeatable"},
			&cli.StringSliceFlag{Name: "memcache", Usage: "memcached server; repeatable"},
			&cli.StringFlag{Name: "codec", Usage: "value codec"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if a.log == nil {
				l, err := newLogger(cmd.Bool("verbose"))
				if err != nil {
					return ctx, err
				}
				a.log = l
			}
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if a.log != nil {
				_ = a.log.Sync()
			}
			return nil
		},
	}

	root.Commands = []*cli.Command{
		a.getCommand(),
		a.setCommand(),
		a.deleteCommand(),
		a.counterCommand("incr", "add to an integer value", 1),
		a.counterCommand("decr", "subtract from an integer value", -1),
		a.flushCommand(),
		a.statsCommand(),
		a.fetchCommand(),
		a.scenarioCommand(),
		a.backendsCommand(),
	}
	for _, c := range root.Commands {
		sort.Slice(c.Flags, func(i, j int) bool {
			return c.Flags[i].Names()[0] < c.Flags[j].Names()[0]
		})
	}
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// loadConfig reads --config (or starts from defaults) and applies the
// override flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.IsSet("backend") {
		cfg.Backend = cmd.String("backend")
	}
	if cmd.IsSet("name") {
		cfg.CacheName = cmd.String("name")
	}
	if cmd.IsSet("codec") {
		cfg.Codec = cmd.String("codec")
	}
	if cmd.IsSet("dir") {
		cfg.File.Dir = cmd.String("dir")
	}
	if cmd.IsSet("dsn") {
		cfg.SQL.DSN = cmd.String("dsn")
	}
	if cmd.IsSet("redis") {
		cfg.Redis.Addrs = cmd.StringSlice("redis")
	}
	if cmd.IsSet("memcache") {
		cfg.Memcache.Servers = cmd.StringSlice("memcache")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withCache opens the configured cache, runs fn and closes the cache. A close
// failure is reported unless fn already failed.
func (a *app) withCache(ctx context.Context, cmd *cli.Command, fn func(*megacache.Cache) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := a.log.With(zap.String("cache", cfg.CacheName), zap.String("backend", cfg.Backend))
	cc, err := backend.Open(ctx, cfg, megacache.Options{
		Logger: mczap.ZapLogger{L: log},
		Output: a.out,
		Fetcher: fetch.New(fetch.Config{
			RetryMax:     cfg.Fetch.RetryMax,
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			DisableFiles: cfg.Fetch.DisableFiles,
			Logger:       retryLogger{log.Sugar()},
		}),
	})
	if err != nil {
		return err
	}
	start := time.Now()
	runErr := fn(cc)
	closeErr := cc.Close(context.WithoutCancel(ctx))
	log.Debug("command done", zap.Duration("took", time.Since(start)), zap.Error(runErr))
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close cache: %w", closeErr)
	}
	return nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct{ s *zap.SugaredLogger }

func (l retryLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
