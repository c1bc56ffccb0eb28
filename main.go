package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

// runnable is the command surface run dispatches to. App implements it;
// tests substitute a mock.
type runnable interface {
	ApplyOptions(AppOptions)
	RunCheck(target string)
	RunSimulate(file string, interval time.Duration)
	RunService()
}

// run parses the CLI flags and dispatches to the matching app mode.
// --check wins over --simulate; with neither, the service runs.
func run(args []string, out io.Writer, app runnable) error {
	fs := flag.NewFlagSet("incidentmap", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	httpPort := fs.Int("port", 0, "HTTP server port (overrides config)")
	checkPath := fs.String("check", "", "Validate a snapshot file or URL, print a summary and exit")
	simulate := fs.String("simulate", "", "Publish a snapshot file to the configured broker")
	interval := fs.Duration("interval", 0, "Republish interval for --simulate (0 publishes once)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "incidentmap version: %s\n", Version)

	app.ApplyOptions(AppOptions{
		ConfigFile: *configFile,
		Port:       *httpPort,
		Check:      *checkPath,
		Simulate:   *simulate,
		Interval:   *interval,
	})

	if *checkPath != "" {
		app.RunCheck(*checkPath)
		return nil
	}

	if *simulate != "" {
		app.RunSimulate(*simulate, *interval)
		return nil
	}

	app.RunService()
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set directly.")
	}

	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			return
		}
		os.Exit(2)
	}
}
