// Command octopus-sim drives a synthetic vehicle over a serial link so
// octopusd can be exercised without real MCU hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"octopus/internal/ptl"
	"octopus/internal/serialport"
	"octopus/internal/simulator"
)

func main() {
	var (
		portName string
		baud     int
		tickMs   int
		sof      uint
	)

	flag.StringVar(&portName, "port", "", "Serial port to write simulated frames to")
	flag.IntVar(&baud, "baud", 115200, "Serial baud rate")
	flag.IntVar(&tickMs, "tick", 10, "Milliseconds between simulated updates")
	flag.UintVar(&sof, "sof", uint(ptl.DefaultSOF), "PTL start-of-frame byte")
	flag.Parse()

	if portName == "" {
		fmt.Println("Please specify a serial port with -port")
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[octopus-sim] ", log.LstdFlags)

	port, err := serialport.Open(serialport.Config{Name: portName, Baud: baud}, logger)
	if err != nil {
		log.Fatalf("failed to open %s: %v", portName, err)
	}

	sim := simulator.NewSimulator(port, time.Duration(tickMs)*time.Millisecond, byte(sof))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down")
		sim.Stop()
	}()

	logger.Printf("simulating vehicle traffic on %s at %dms intervals", portName, tickMs)
	sim.Start()
}
