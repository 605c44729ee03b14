package command

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/megacache"
)

// scenario replays a fixed workload against the cache and reports per-step
// timings: the same sequence every backend is expected to pass.
type scenario struct {
	cc       *megacache.Cache
	out      io.Writer
	log      *zap.Logger
	count    int
	work     time.Duration
	resource string
}

func (a *app) scenarioCommand() *cli.Command {
	return &cli.Command{
		Name:  "scenario",
		Usage: "flush the namespace and run the reference workload",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "runs", Value: 3, Usage: "how many times to repeat the workload"},
			&cli.IntFlag{Name: "count", Value: 1000, Usage: "keys per bulk step"},
			&cli.DurationFlag{Name: "work", Value: 0, Usage: "simulated cost of every uncached computation"},
			&cli.StringFlag{Name: "resource", Usage: "URL or path for the fetch step; skipped when empty"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.withCache(ctx, cmd, func(cc *megacache.Cache) error {
				s := &scenario{
					cc:       cc,
					out:      a.out,
					log:      a.log,
					count:    int(cmd.Int("count")),
					work:     cmd.Duration("work"),
					resource: cmd.String("resource"),
				}
				if err := cc.Flush(ctx); err != nil {
					return err
				}
				for run := 1; run <= int(cmd.Int("runs")); run++ {
					if err := s.run(ctx, run); err != nil {
						return fmt.Errorf("run %d: %w", run, err)
					}
				}
				rep, err := cc.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Session: %+v\nHit ratio: %.2f\n", rep.Session, rep.Session.HitRatio())
				return nil
			})
		},
	}
}

func (s *scenario) run(ctx context.Context, run int) error {
	fmt.Fprintf(s.out, "RUN %d\n--------------\n\n", run)
	start := time.Now()
	lap := start
	clock := func() {
		now := time.Now()
		fmt.Fprintf(s.out, "Duration: %.2fs\n\n", now.Sub(lap).Seconds())
		lap = now
	}

	steps := []struct {
		title string
		fn    func(context.Context) error
	}{
		{"simple variable caching", s.simple},
		{fmt.Sprintf("setting %d variables", s.count), s.setMany},
		{fmt.Sprintf("getting %d variables", s.count), s.getMany},
		{fmt.Sprintf("deleting %d variables", s.count), s.deleteMany},
		{"function caching (100)", s.calls},
		{"resource caching", s.fetch},
		{"caching for next run (60 seconds)", s.nextRun},
		{"counters", s.counters},
		{"fragment caching", s.fragment},
	}
	for i, st := range steps {
		fmt.Fprintf(s.out, "Test %d: %s\n\n", i+1, st.title)
		if err := st.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", st.title, err)
		}
		clock()
	}
	fmt.Fprintf(s.out, "Global duration: %.2fs\n\n\n", time.Since(start).Seconds())
	return nil
}

func (s *scenario) sleep(ctx context.Context) error {
	if s.work <= 0 {
		return nil
	}
	t := time.NewTimer(s.work)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scenario) simple(ctx context.Context) error {
	ok, err := s.cc.Get(ctx, "somevariable", nil)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(s.out, "- Cached")
		return nil
	}
	if err := s.sleep(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "- Not cached")
	return s.cc.Set(ctx, "somevariable", "lorem", 0)
}

func (s *scenario) setMany(ctx context.Context) error {
	for i := 0; i < s.count; i++ {
		if err := s.cc.Set(ctx, "test"+strconv.Itoa(i), 1, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenario) getMany(ctx context.Context) error {
	missed := 0
	for i := 0; i < s.count; i++ {
		var v int
		ok, err := s.cc.Get(ctx, "test"+strconv.Itoa(i), &v)
		if err != nil {
			return err
		}
		if !ok || v != 1 {
			missed++
			fmt.Fprint(s.out, "X")
		}
	}
	if missed > 0 {
		fmt.Fprintln(s.out)
		s.log.Warn("values missing right after set", zap.Int("missed", missed))
	}
	return nil
}

func (s *scenario) deleteMany(ctx context.Context) error {
	for i := 0; i < s.count; i++ {
		if _, err := s.cc.Delete(ctx, "test"+strconv.Itoa(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenario) calls(ctx context.Context) error {
	sum := megacache.Wrap(s.cc, "do_sum", time.Minute, func(ctx context.Context, args ...any) (int, error) {
		if err := s.sleep(ctx); err != nil {
			return 0, err
		}
		return args[0].(int) + args[1].(int), nil
	})
	for a := 0; a < 10; a++ {
		for b := 0; b < 10; b++ {
			got, err := sum(ctx, a, b)
			if err != nil {
				return err
			}
			if got != a+b {
				return fmt.Errorf("do_sum(%d, %d) = %d", a, b, got)
			}
		}
	}
	return nil
}

func (s *scenario) fetch(ctx context.Context) error {
	if s.resource == "" {
		fmt.Fprintln(s.out, "- skipped (no --resource)")
		return nil
	}
	b, err := s.cc.Fetch(ctx, s.resource, 20*time.Second)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d\n\n", len(b))
	return nil
}

func (s *scenario) nextRun(ctx context.Context) error {
	ok, err := s.cc.Get(ctx, "test-a-0", nil)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprint(s.out, "Cached\n\n")
	} else {
		fmt.Fprint(s.out, "Not yet cached\n\n")
	}
	for i := 0; i < 5; i++ {
		key := "test-a-" + strconv.Itoa(i)
		ok, err := s.cc.Get(ctx, key, nil)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := s.sleep(ctx); err != nil {
			return err
		}
		if err := s.cc.Set(ctx, key, 1, time.Minute); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenario) counters(ctx context.Context) error {
	if err := s.cc.Set(ctx, "counter", 5, 0); err != nil {
		return err
	}
	if _, err := s.cc.Increment(ctx, "counter", 3); err != nil {
		return err
	}
	n, err := s.cc.Decrement(ctx, "counter", 1)
	if err != nil {
		return err
	}
	if n == 7 {
		fmt.Fprint(s.out, "Counters work!\n\n")
	} else {
		fmt.Fprintf(s.out, "Counters failed: got %d, want 7\n\n", n)
	}
	return nil
}

func (s *scenario) fragment(ctx context.Context) error {
	return s.cc.Capture(ctx, "heading", time.Minute, func(w io.Writer) error {
		for k := 0; k < 5; k++ {
			if err := s.sleep(ctx); err != nil {
				return err
			}
			fmt.Fprintln(w, time.Now().Format(time.TimeOnly))
		}
		return nil
	})
}
