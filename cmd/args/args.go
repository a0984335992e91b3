// Package args parses the command-line flags shared by the example client
// binaries under cmd/client/.
package args

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/client"
	"github.com/modbuscore/modbus/logging"
)

// ModbusArgs holds common command-line arguments for the example clients.
type ModbusArgs struct {
	IP         string
	Port       int
	UnitID     int
	Timeout    time.Duration
	LogLevel   string
	LogLevelID logging.LogLevel
}

// ParseArgs parses the common client flags.
func ParseArgs() *ModbusArgs {
	a := &ModbusArgs{}

	flag.StringVar(&a.IP, "ip", "127.0.0.1", "Modbus server IP address")
	flag.IntVar(&a.Port, "port", 502, "Modbus server port")
	flag.IntVar(&a.UnitID, "unit", 1, "Modbus unit ID")
	flag.DurationVar(&a.Timeout, "timeout", 5*time.Second, "timeout for Modbus operations")
	flag.StringVar(&a.LogLevel, "log", "info", "log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	switch a.LogLevel {
	case "debug":
		a.LogLevelID = logging.LevelDebug
	case "info":
		a.LogLevelID = logging.LevelInfo
	case "warn":
		a.LogLevelID = logging.LevelWarn
	case "error":
		a.LogLevelID = logging.LevelError
	default:
		fmt.Printf("invalid log level %q, using 'info'\n", a.LogLevel)
		a.LogLevelID = logging.LevelInfo
	}

	return a
}

// CreateChannel builds a TCP client.Channel from the parsed arguments. The
// caller is responsible for calling Enable and Disable.
func (a *ModbusArgs) CreateChannel() *client.Channel {
	logger := logging.NewLogger(logging.WithLevel(a.LogLevelID))

	return client.NewTCPChannel(a.IP, a.Port,
		client.WithLogger(logger),
		client.WithUnitID(modbus.UnitId(a.UnitID)),
		client.WithDefaultTimeout(a.Timeout),
	)
}
