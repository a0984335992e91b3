// Command WriteMultipleRegisters writes a contiguous run of holding
// registers on a Modbus TCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modbuscore/modbus/client"
	"github.com/modbuscore/modbus/cmd/args"
)

func main() {
	address := flag.Int("address", 0, "starting register address")
	valuesFlag := flag.String("values", "1,2,3", "comma-separated register values")
	a := args.ParseArgs()
	channel := a.CreateChannel()

	values, err := parseValues(*valuesFlag)
	if err != nil {
		fmt.Println("invalid -values:", err)
		os.Exit(1)
	}

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

	if err := channel.WriteMultipleRegisters(ctx, uint16(*address), values); err != nil {
		fmt.Println("failed to write registers:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d registers starting at address %d\n", len(values), *address)
}

func parseValues(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	values := make([]uint16, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, err
		}
		values = append(values, uint16(n))
	}
	return values, nil
}
