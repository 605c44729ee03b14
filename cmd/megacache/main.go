package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/unkn0wn-root/megacache/internal/command"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := command.New(command.Options{}).Run(ctx, os.Args); err != nil {
		if errors.Is(err, command.ErrMiss) {
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
