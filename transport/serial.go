package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/goburrow/serial"
)

// FlowControl selects a serial flow-control discipline for an RTU link.
//
// Ref: spec.md Section 4.3 (SerialPortSettings.flow_control)
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
	FlowControlXonXoff
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlRTSCTS:
		return "RtsCts"
	case FlowControlXonXoff:
		return "XonXoff"
	default:
		return "None"
	}
}

// SerialConfig mirrors the parameters a Modbus RTU link needs; it is kept
// separate from goburrow/serial.Config so callers of this package never have
// to import goburrow/serial directly.
//
// Ref: spec.md Section 4.3 (RTU transport parameters)
type SerialConfig struct {
	Address  string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	// ReadTimeout bounds how long a single Read call on the underlying port
	// may block; it is independent of the per-request ctx deadline applied
	// in ReadExact.
	ReadTimeout time.Duration
	// FlowControl is validated but only FlowControlNone can actually be
	// honored: goburrow/serial.Config has no RTS/CTS or XON/XOFF knob (see
	// DESIGN.md), so OpenSerial rejects the other two rather than silently
	// ignoring them.
	FlowControl FlowControl
}

// serialStream wraps a goburrow/serial.Port. RTU has no framing-level way to
// cancel an in-flight read, so ReadExact/WriteAll fall back to the port's own
// configured timeout rather than ctx; Shutdown closes the port outright,
// which unblocks a pending Read with an error on most platforms.
type serialStream struct {
	port serial.Port
}

// OpenSerial opens the RTU serial port described by cfg.
func OpenSerial(cfg SerialConfig) (Stream, error) {
	if cfg.FlowControl != FlowControlNone {
		return nil, fmt.Errorf("transport: goburrow/serial cannot express flow control %s; only FlowControlNone is supported", cfg.FlowControl)
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &serialStream{port: port}, nil
}

func (s *serialStream) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialStream) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *serialStream) ReadExact(_ context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := s.port.Read(buf[read:])
		read += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *serialStream) WriteAll(_ context.Context, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := s.port.Write(buf[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *serialStream) Shutdown() error {
	return s.port.Close()
}
