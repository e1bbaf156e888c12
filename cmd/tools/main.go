package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychee-technology/formsync/factory"
	"go.uber.org/zap"
)

func main() {
	factory.LoadDotEnv(".env", "../.env")
	cfg := factory.ConfigFromEnv()
	logger, err := factory.NewLogger(cfg.Logging.Level)
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands := map[string]func(context.Context, []string) error{
		"sync":          runSync,
		"search":        runSearch,
		"forms":         runForms,
		"clear-indices": runClearIndices,
		"watermarks":    runWatermarks,
		"member":        runMember,
	}
	run, ok := commands[os.Args[1]]
	if !ok {
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err := run(ctx, os.Args[2:]); err != nil {
		stop()
		sugar.Fatalf("%s: %v", os.Args[1], err)
	}
}

func printUsage() {
	fmt.Println("Usage: formsync-tools <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  sync            Sync one form, every form or the member directory")
	fmt.Println("  search          Run a ranked search over the form indices")
	fmt.Println("  forms           List form definitions")
	fmt.Println("  clear-indices   Delete every form index (requires -yes)")
	fmt.Println("  watermarks      Show or reset incremental sync watermarks")
	fmt.Println("  member          Resolve a member id to its display name")
}

// newFlagSet returns a flag set that prints its own usage line.
func newFlagSet(name, usage string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Printf("Usage: formsync-tools %s %s\n\n", name, usage)
		fmt.Println("Options:")
		flags.PrintDefaults()
	}
	return flags
}

// parseFlags parses args and reports whether the command should continue.
func parseFlags(flags *flag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// connect wires the pipeline from the environment.
func connect(ctx context.Context) (*factory.Components, error) {
	cfg := factory.ConfigFromEnv()
	// CLI runs are one-shot
	cfg.Scheduler.Enabled = false
	c, err := factory.NewComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	zap.S().Debugw("connected", "database", cfg.Database.Database, "search", cfg.Search.Addresses)
	return c, nil
}
