// Command server runs a standalone Modbus TCP server with a preloaded
// in-memory device, updating a few registers on a timer to demonstrate live
// data.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/server"
)

func main() {
	address := flag.String("address", "0.0.0.0", "server address to bind to")
	port := flag.Int("port", 502, "TCP port to listen on")
	debug := flag.Bool("debug", false, "enable debug logging")
	unitID := flag.Int("unit", 1, "unit id to expose the preloaded device under")
	flag.Parse()

	logLevel := logging.LevelInfo
	if *debug {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(logging.WithLevel(logLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := server.NewDevice(nil)
	preloadSampleData(device, logger)

	devices := server.NewDeviceMap()
	devices.AddDevice(modbus.UnitId(*unitID), device)

	modbusServer := server.NewServer(devices, server.WithLogger(logger))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info(ctx, "received shutdown signal, draining sessions")
		if err := modbusServer.Shutdown(5 * time.Second); err != nil {
			logger.Error(ctx, "error during shutdown: %v", err)
		}
		cancel()
	}()

	logger.Info(ctx, "starting Modbus TCP server on %s:%d", *address, *port)
	if err := modbusServer.CreateTCP(ctx, *address, *port); err != nil {
		logger.Error(ctx, "failed to start server: %v", err)
		os.Exit(1)
	}

	go tickLiveRegisters(ctx, device)

	<-ctx.Done()
	logger.Info(ctx, "server shutdown complete")
}

// preloadSampleData seeds a handful of coils, discrete inputs, and
// registers so the example binaries have something to read immediately.
func preloadSampleData(device *server.Device, logger logging.LoggerInterface) {
	ctx := context.Background()
	logger.Info(ctx, "preloading sample data")

	device.Update(func(tx *server.Tx) {
		coilValues := []bool{true, false, true, true, false}
		for i, v := range coilValues {
			tx.AddCoil(uint16(i), v)
		}

		diValues := []bool{false, true, false, true, true}
		for i, v := range diValues {
			tx.AddDiscreteInput(uint16(i), v)
		}

		hrValues := []uint16{1000, 2000, 3000, 4000, 5000}
		for i, v := range hrValues {
			tx.AddHoldingRegister(uint16(i), v)
		}

		irValues := []uint16{100, 200, 300, 400, 500}
		for i, v := range irValues {
			tx.AddInputRegister(uint16(i), v)
		}

		tx.AddInputRegister(1000, 0)
		tx.AddInputRegister(1001, 0)
		tx.AddHoldingRegister(2000, 0)
		tx.AddHoldingRegister(5000, 12345)
		tx.AddCoil(3000, false)
	})
}

// tickLiveRegisters updates a few registers every second so a connected
// client sees changing values, mirroring a counter and a toggling coil.
func tickLiveRegisters(ctx context.Context, device *server.Device) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var counter uint16
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			counter++
			device.Update(func(tx *server.Tx) {
				tx.UpdateInputRegister(1000, counter)
				tx.UpdateInputRegister(1001, uint16(time.Now().Unix()&0xFFFF))
				tx.UpdateHoldingRegister(2000, counter)
				tx.UpdateCoil(3000, counter%2 == 0)
			})
		}
	}
}
