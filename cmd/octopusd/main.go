// Command octopusd is the instrument cluster control-plane service: it
// loads configuration, wires every subsystem through internal/runtime,
// and runs until terminated.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"octopus/internal/config"
	"octopus/internal/runtime"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Path to the runtime configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[octopusd] ", log.LstdFlags)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Printf("could not load %s, falling back to defaults: %v", configFile, err)
		cfg = config.Default()
	}

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		log.Fatalf("octopusd: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil {
			logger.Printf("runtime exited with error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Println("shutting down")
	cancel()
	rt.Stop()
	<-runDone
}
