// Command WriteSingleCoil writes one coil on a Modbus TCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modbuscore/modbus/client"
	"github.com/modbuscore/modbus/cmd/args"
)

func main() {
	address := flag.Int("address", 0, "coil address")
	value := flag.Bool("value", true, "coil value")
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

	if err := channel.WriteSingleCoil(ctx, uint16(*address), *value); err != nil {
		fmt.Println("failed to write coil:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote coil %d = %t\n", *address, *value)
}
