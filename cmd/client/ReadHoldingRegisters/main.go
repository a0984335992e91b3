// Command ReadHoldingRegisters reads a range of holding registers from a
// Modbus TCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modbuscore/modbus/client"
	"github.com/modbuscore/modbus/cmd/args"
)

func main() {
	a := args.ParseArgs()
	channel := a.CreateChannel()

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	if err := channel.Enable(ctx); err != nil {
		fmt.Println("failed to enable channel:", err)
		os.Exit(1)
	}
	defer channel.Disable()

	deadline := time.Now().Add(a.Timeout)
	for channel.State() != client.StateRunning && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	regs, err := channel.ReadHoldingRegisters(ctx, 0, 5)
	if err != nil {
		fmt.Println("failed to read holding registers:", err)
		os.Exit(1)
	}

	fmt.Printf("read %d holding registers starting at address 0:\n", len(regs))
	for i, v := range regs {
		fmt.Printf("register %d: %d (0x%04X)\n", i, v, v)
	}
}
