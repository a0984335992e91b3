// Command ReadCoils reads a range of coils from a Modbus TCP server.
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

	coils, err := channel.ReadCoils(ctx, 0, 5)
	if err != nil {
		fmt.Println("failed to read coils:", err)
		os.Exit(1)
	}

	fmt.Printf("read %d coils starting at address 0:\n", len(coils))
	for i, v := range coils {
		fmt.Printf("coil %d: %t\n", i, v)
	}
}
