// Package main is the entry point for the weft plugin UI host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/weftui/weft/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, app.ErrQuit) || errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() app.Options {
	var opts app.Options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.PluginDir, "plugins", "", "Plugin directory")
	flag.StringVar(&opts.PluginDir, "p", "", "Plugin directory (shorthand)")
	flag.StringVar(&opts.Script, "e", "", "Inline guest code to run instead of the entry script")
	flag.BoolVar(&opts.Headless, "headless", false, "Run without a terminal view")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "weft - plugin UI host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: weft [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  weft -p ./plugins              Run the plugin directory's entry script\n")
		fmt.Fprintf(os.Stderr, "  weft -c weft.toml -p ./plugins Run with configuration and live reload\n")
		fmt.Fprintf(os.Stderr, "  weft -e 'ui.flush()'           Run inline guest code\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("weft %s (%s)\n", version, commit)
		os.Exit(0)
	}
	return opts
}
