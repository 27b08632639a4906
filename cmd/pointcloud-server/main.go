// Command pointcloud-server serves point cloud measurements to consumers on
// the local network.
//
// Usage:
//
//	go run ./cmd/pointcloud-server [flags]
//
// Flags:
//
//	-config        JSON config file (optional)
//	-port          Listen port (default: 3000)
//	-rate          Stream refresh rate in Hz (default: 50)
//	-dev           Publish synthetic frames instead of sensor data
//	-health-listen gRPC health service address (default: disabled)
//	-debug         Log every skipped stream cycle
//	-version       Print version and exit
//
// SIGUSR1 moves the server to the background (listener stopped) and SIGUSR2
// back to the foreground. SIGINT and SIGTERM shut it down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/pointcloud-server/internal/config"
	"github.com/banshee-data/pointcloud-server/internal/healthcheck"
	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/pointserver"
	"github.com/banshee-data/pointcloud-server/internal/provider"
	"github.com/banshee-data/pointcloud-server/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to JSON config file")
	port         = flag.Int("port", 0, "Listen port (overrides config)")
	rate         = flag.Int("rate", 0, "Stream refresh rate in Hz (overrides config)")
	devMode      = flag.Bool("dev", false, "Publish synthetic frames")
	healthListen = flag.String("health-listen", "", "gRPC health service address, e.g. :50052")
	debugLog     = flag.Bool("debug", false, "Enable debug logging")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// loadConfig merges the optional config file with flags that were set.
func loadConfig() (*config.ServerConfig, error) {
	cfg := config.EmptyServerConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadServerConfig(*configPath); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.SetPort(*port)
		case "rate":
			cfg.SetRefreshRateHz(*rate)
		case "dev":
			cfg.SetSynthetic(*devMode)
		case "health-listen":
			cfg.SetHealthListen(*healthListen)
		case "debug":
			cfg.SetDebug(*debugLog)
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	monitoring.SetDebug(cfg.GetDebug())
	log.Printf("pointcloud-server %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	store := provider.NewStore()
	if cfg.GetSynthetic() {
		gen := provider.NewSynthetic()
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Run(ctx, store)
		}()
	} else {
		log.Printf("No sensor attached; /measurement reports unavailable until frames are published (use -dev for synthetic frames)")
	}

	var health *healthcheck.Server
	serverCfg := pointserver.Config{
		Port:            cfg.GetPort(),
		RefreshRateHz:   cfg.GetRefreshRateHz(),
		Provider:        store,
		ShutdownTimeout: cfg.GetShutdownTimeout(),
		WriteTimeout:    cfg.GetWriteTimeout(),
	}
	if addr := cfg.GetHealthListen(); addr != "" {
		health = healthcheck.New()
		if err := health.Listen(addr); err != nil {
			log.Fatalf("Failed to start health service: %v", err)
		}
		serverCfg.Health = health
	}

	server := pointserver.New(serverCfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	lifecycle := make(chan os.Signal, 1)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(lifecycle)

	for running := true; running; {
		select {
		case sig := <-lifecycle:
			switch sig {
			case syscall.SIGUSR1:
				server.EnteredBackground()
			case syscall.SIGUSR2:
				server.EnteredForeground()
			}
		case <-ctx.Done():
			running = false
		}
	}

	log.Printf("Shutting down...")
	server.Stop()
	if health != nil {
		health.Close()
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
