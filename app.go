package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/incidentmap/heat"
)

// AppOptions carries the parsed CLI flags into the App.
type AppOptions struct {
	ConfigFile string
	Port       int
	Check      string
	Simulate   string
	Interval   time.Duration
}

// App encapsulates the application state and dependencies
type App struct {
	Config *heat.Config
	Feed   heat.SnapshotSource
	Hub    *heat.SnapshotHub

	// CLI flags (effectively dependencies)
	ConfigFile string
	Port       int
	Check      string
	Simulate   string
	Interval   time.Duration
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Port = opts.Port
	a.Check = opts.Check
	a.Simulate = opts.Simulate
	a.Interval = opts.Interval
}

// loadConfig loads the config file and applies the -port override.
func (a *App) loadConfig() *heat.Config {
	config, err := heat.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, a.ConfigFile)
	}
	if a.Port != 0 {
		config.HTTP.Port = a.Port
	}
	return config
}

// RunService starts the upstream feed, fans it out through the snapshot
// hub and serves map views over HTTP until interrupted.
func (a *App) RunService() {
	fmt.Println("Starting incidentmap service...")

	config := a.loadConfig()
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)

	// Upstream feed: live broker updates when one is configured, HTTP
	// polling otherwise.
	var mqttFeed *heat.MQTTFeed
	if config.UsesMQTT() {
		feed, err := heat.NewMQTTFeed(config)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		mqttFeed = feed
		a.Feed = feed
		log.Printf("[FEED] live updates from %s topic %s", config.MQTT.Broker, config.Feed.Topic)
	} else {
		a.Feed = heat.NewHTTPFeed(time.Duration(config.Feed.PollSeconds) * time.Second)
		log.Printf("[FEED] polling %s every %ds", config.Feed.URL, config.Feed.PollSeconds)
	}

	hub := heat.NewSnapshotHub(a.Feed, config.FeedPath())
	if err := hub.Run(); err != nil {
		log.Fatalf("Failed to start snapshot hub: %v", err)
	}
	a.Hub = hub

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HTTP.Port),
		Handler: newHTTPServer(hub, config),
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[HTTP] Server error: %v", err)
		}
	}()

	fmt.Println("\nService Running")
	fmt.Println("===============")
	fmt.Printf("\nFeed: %s\n", config.FeedPath())
	fmt.Printf("\nHTTP endpoints (port %d):\n", config.HTTP.Port)
	fmt.Println("  GET /              - Live incident heatmap")
	fmt.Println("  GET /ws            - Map view websocket")
	fmt.Println("  GET /features.json - Current snapshot as GeoJSON")
	fmt.Println("  GET /healthz       - Health check")
	fmt.Println("  GET /metrics       - Prometheus metrics")
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")

	// Shutdown drains plain requests; hijacked websocket views die with
	// the process.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[HTTP] Shutdown: %v", err)
	}

	hub.Close()
	if mqttFeed != nil {
		mqttFeed.Disconnect()
	}
	fmt.Println("Service stopped")
}

// RunCheck validates a snapshot from a local file or URL and prints what
// the live pipeline would render from it.
func (a *App) RunCheck(target string) {
	snap, err := loadSnapshot(target)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	sum := heat.Summarize(snap)
	fmt.Printf("Source: %s\n", target)
	fmt.Printf("Records: %d\n", sum.Records)
	fmt.Printf("Renderable features: %d\n", sum.Features)
	fmt.Printf("Dropped records: %d\n", sum.Dropped)
	if sum.HasBounds {
		fmt.Printf("Bounds: (%.4f, %.4f) to (%.4f, %.4f)\n",
			sum.Bounds.Min[0], sum.Bounds.Min[1], sum.Bounds.Max[0], sum.Bounds.Max[1])
	}
}

// RunSimulate publishes a snapshot file to the configured broker so live
// views render it. With an interval the file is re-read and re-published
// until interrupted, so edits to the file land on the map.
func (a *App) RunSimulate(file string, interval time.Duration) {
	config := a.loadConfig()
	if !config.UsesMQTT() {
		log.Fatal("Simulate mode needs an MQTT broker in the config")
	}

	feed, err := heat.NewMQTTFeed(config)
	if err != nil {
		log.Fatalf("Failed to initialize MQTT: %v", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for !feed.IsConnected() {
		if time.Now().After(deadline) {
			log.Fatalf("Timed out waiting for connection to %s", config.MQTT.Broker)
		}
		time.Sleep(200 * time.Millisecond)
	}

	pub := heat.NewPublisher(feed.Client(), config.Feed.Topic)
	publish := func() {
		snap, err := heat.ReadSnapshotFile(file)
		if err != nil {
			log.Printf("Error reading %s: %v", file, err)
			return
		}
		if err := pub.PublishSnapshot(snap); err != nil {
			log.Printf("Error publishing snapshot: %v", err)
			return
		}
		fmt.Printf("Published %d records to %s\n", len(snap), config.Feed.Topic)
	}

	publish()
	if interval <= 0 {
		feed.Disconnect()
		return
	}

	fmt.Println("Press Ctrl+C to stop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			publish()
		case <-sigChan:
			fmt.Println("\nStopping simulation")
			feed.Disconnect()
			return
		}
	}
}

// loadSnapshot reads a snapshot from a local path or an http(s) URL.
func loadSnapshot(target string) (heat.Snapshot, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		ctx, cancel := context.WithTimeout(context.Background(), heat.DefaultFetchTimeout)
		defer cancel()
		return heat.FetchSnapshot(ctx, target)
	}
	return heat.ReadSnapshotFile(target)
}
