package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds the parsed command-line configuration.
type CLIConfig struct {
	ConfigFile string
	// Init overrides the configured init command line when non-empty.
	Init []string
}

// ParseCLI parses command-line arguments.
func ParseCLI() *CLIConfig {
	cfg := &CLIConfig{}
	flag.StringVar(&cfg.ConfigFile, "f", "", "path to config file (default: searches for minisys.yaml in current directory)")
	flag.Usage = printUsage
	flag.Parse()
	cfg.Init = flag.Args()
	return cfg
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] [init-command [args...]]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nWithout an init command the configured init program runs; the\n")
	fmt.Fprintf(os.Stderr, "built-in default is an interactive prompt on the controlling terminal.\n")
}
