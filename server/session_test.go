package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modbuscore/modbus/frame"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/transport"
)

func TestSessionReadCoilsRoundTrip(t *testing.T) {
	// spec.md Section 8 scenario 1: coils {0:false,1:true,2:false,3:true,4:false},
	// read_coils(unit=1, start=0, count=5) => byte-count=1, bits packed
	// LSB-first as 0b00001010 (0x0A).
	device := NewDevice(nil)
	device.Update(func(tx *Tx) {
		tx.AddCoil(0, false)
		tx.AddCoil(1, true)
		tx.AddCoil(2, false)
		tx.AddCoil(3, true)
		tx.AddCoil(4, false)
	})
	devices := NewDeviceMap()
	devices.AddDevice(1, device)

	clientSide, serverSide := transport.NewMockPair()
	defer clientSide.Shutdown()

	session := NewTCPSession("s1", serverSide, devices, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	codec := frame.MBAPCodec{}
	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x01, 0x00, 0x00, 0x00, 0x05}, 7))

	respCtx, respCancel := context.WithTimeout(context.Background(), time.Second)
	defer respCancel()
	unit, pduBytes, txID, err := readResponseWithTimeout(respCtx, codec, clientSide)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unit)
	assert.EqualValues(t, 7, txID)
	assert.Equal(t, []byte{0x01, 0x01, 0x0A}, pduBytes)
}

func TestSessionIllegalDataAddress(t *testing.T) {
	// spec.md Section 8 scenario 2: coils 0..4 only defined, read_coils(start=9,
	// count=2) => exception PDU "81 02".
	device := NewDevice(nil)
	device.Update(func(tx *Tx) {
		for i := uint16(0); i < 5; i++ {
			tx.AddCoil(i, false)
		}
	})
	devices := NewDeviceMap()
	devices.AddDevice(1, device)

	clientSide, serverSide := transport.NewMockPair()
	defer clientSide.Shutdown()

	session := NewTCPSession("s2", serverSide, devices, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	codec := frame.MBAPCodec{}
	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x01, 0x00, 0x09, 0x00, 0x02}, 1))

	respCtx, respCancel := context.WithTimeout(context.Background(), time.Second)
	defer respCancel()
	_, pduBytes, _, err := readResponseWithTimeout(respCtx, codec, clientSide)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x02}, pduBytes)
}

func TestSessionWriteMultipleRegistersThenRead(t *testing.T) {
	// spec.md Section 8 scenario 3.
	device := NewDevice(nil)
	device.Update(func(tx *Tx) {
		tx.AddHoldingRegister(0, 0)
		tx.AddHoldingRegister(1, 0)
		tx.AddHoldingRegister(2, 0)
	})
	devices := NewDeviceMap()
	devices.AddDevice(1, device)

	clientSide, serverSide := transport.NewMockPair()
	defer clientSide.Shutdown()

	session := NewTCPSession("s3", serverSide, devices, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	codec := frame.MBAPCodec{}
	writeReq := []byte{0x10, 0x00, 0x00, 0x00, 0x03, 0x06, 0xCA, 0xFE, 0x00, 0x15, 0xFF, 0xFF}
	require.NoError(t, codec.WriteRequest(clientSide, 1, writeReq, 1))

	respCtx, respCancel := context.WithTimeout(context.Background(), time.Second)
	defer respCancel()
	_, pduBytes, _, err := readResponseWithTimeout(respCtx, codec, clientSide)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00, 0x03}, pduBytes)

	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x03}, 2))
	respCtx2, respCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer respCancel2()
	_, readPDU, _, err := readResponseWithTimeout(respCtx2, codec, clientSide)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x06, 0xCA, 0xFE, 0x00, 0x15, 0xFF, 0xFF}, readPDU)
}

func TestSessionTLSRoleDeniesWriteSingleCoil(t *testing.T) {
	// spec.md Section 8 scenario 6: a peer authenticated with a role lacking
	// write access gets IllegalFunction on WriteSingleCoil, but reads still
	// succeed.
	device := NewDevice(nil)
	device.Update(func(tx *Tx) {
		tx.AddCoil(0, false)
	})
	devices := NewDeviceMap()
	devices.AddDevice(1, device)

	authz := AllowAll()
	authz.WriteSingleCoil = func(t Target) bool { return t.Role == "operator" }

	clientSide, serverSide := transport.NewMockPairWithRoles([]string{"viewer"})
	defer clientSide.Shutdown()

	session := NewTLSSession("s4", serverSide, devices, authz, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	codec := frame.MBAPCodec{}
	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x05, 0x00, 0x00, 0xFF, 0x00}, 1))

	respCtx, respCancel := context.WithTimeout(context.Background(), time.Second)
	defer respCancel()
	_, pduBytes, _, err := readResponseWithTimeout(respCtx, codec, clientSide)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x85, 0x01}, pduBytes)

	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x01, 0x00, 0x00, 0x00, 0x01}, 2))
	respCtx2, respCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer respCancel2()
	_, readPDU, _, err := readResponseWithTimeout(respCtx2, codec, clientSide)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01, 0x00}, readPDU)
}

func TestSessionReadDeviceIdentificationExtension(t *testing.T) {
	// Exercises the 0x2B/0x0E extension end-to-end through the same
	// pdu.Extension lookup dispatch consults for any function code outside
	// the core eight.
	device := NewDevice(nil)
	device.SetIdentity(Identity{VendorName: "Acme Widgets", ProductCode: "AW-100", Revision: "1.2"})
	devices := NewDeviceMap()
	devices.AddDevice(1, device)

	clientSide, serverSide := transport.NewMockPair()
	defer clientSide.Shutdown()

	session := NewTCPSession("s5", serverSide, devices, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	codec := frame.MBAPCodec{}
	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x2B, 0x0E, 0x01, 0x00}, 1))

	respCtx, respCancel := context.WithTimeout(context.Background(), time.Second)
	defer respCancel()
	_, pduBytes, _, err := readResponseWithTimeout(respCtx, codec, clientSide)
	require.NoError(t, err)

	want := []byte{0x2B, 0x0E, 0x01, 0x01, 0x00, 0x00, 0x03}
	want = append(want, 0x00, byte(len("Acme Widgets")))
	want = append(want, []byte("Acme Widgets")...)
	want = append(want, 0x01, byte(len("AW-100")))
	want = append(want, []byte("AW-100")...)
	want = append(want, 0x02, byte(len("1.2")))
	want = append(want, []byte("1.2")...)
	assert.Equal(t, want, pduBytes)
}

func TestSessionMalformedTCPRequestClosesSession(t *testing.T) {
	// spec.md Section 4.5 step 2: a malformed (non-exception) TCP request
	// closes the session rather than leaving it hanging open.
	devices := NewDeviceMap()

	clientSide, serverSide := transport.NewMockPair()
	defer clientSide.Shutdown()

	session := NewTCPSession("s6", serverSide, devices, logging.NewNoopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	codec := frame.MBAPCodec{}
	// WriteMultipleRegisters declaring count=2/byteCount=4 but carrying only
	// 2 bytes of register data: well-formed framing, unparsable PDU shape.
	require.NoError(t, codec.WriteRequest(clientSide, 1, []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01}, 1))

	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a malformed TCP request")
	}
}

func readResponseWithTimeout(ctx context.Context, codec frame.Codec, stream transport.Stream) (unit byte, pduBytes []byte, txID uint16, err error) {
	type result struct {
		unit byte
		pdu  []byte
		tx   uint16
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		u, p, tx, e := codec.ReadResponse(stream)
		ch <- result{unit: byte(u), pdu: p, tx: tx, err: e}
	}()
	select {
	case r := <-ch:
		return r.unit, r.pdu, r.tx, r.err
	case <-ctx.Done():
		return 0, nil, 0, ctx.Err()
	}
}
