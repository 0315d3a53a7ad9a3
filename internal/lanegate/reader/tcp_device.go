package reader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Reader bridge command bytes.
const (
	cmdGetTagBuf   byte = 0x01
	cmdClearTagBuf byte = 0x02
	cmdPing        byte = 0x03

	statusOK byte = 0x01
)

// maxTagBuf bounds a single GetTagBuf reply.
const maxTagBuf = 9182

// TCPDevice talks to a reader through its network bridge.  Every request
// is one command byte; every reply starts with a status byte.  A
// GetTagBuf reply continues with a big-endian uint16 tag count, a uint16
// buffer length and the buffer itself.
type TCPDevice struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPDevice(addr string, ioTimeout time.Duration) *TCPDevice {
	if ioTimeout <= 0 {
		ioTimeout = time.Second
	}
	return &TCPDevice{
		addr:    addr,
		timeout: ioTimeout,
		dialer:  net.Dialer{Timeout: ioTimeout},
	}
}

func (d *TCPDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}

	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return hardwareErr("dial "+d.addr, err)
	}
	d.conn = conn

	// A fresh session starts from an empty hardware buffer.
	if _, err := d.roundTrip(cmdClearTagBuf); err != nil {
		_ = d.conn.Close()
		d.conn = nil
		return err
	}
	return nil
}

func (d *TCPDevice) ReadTags(ctx context.Context) ([]Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.roundTrip(cmdGetTagBuf)
	if err != nil {
		return nil, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, hardwareErr("read tag header", err)
	}
	count := int(binary.BigEndian.Uint16(hdr[0:2]))
	size := int(binary.BigEndian.Uint16(hdr[2:4]))

	// The whole reply is consumed on every path so the next command's
	// status byte is read in sync.
	if size > maxTagBuf || count == 0 {
		if _, err := io.CopyN(io.Discard, conn, int64(size)); err != nil {
			return nil, hardwareErr("discard tag buffer", err)
		}
		if size > maxTagBuf {
			return nil, fmt.Errorf("%w: buffer length %d", ErrMalformedBuffer, size)
		}
		return nil, nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, hardwareErr("read tag buffer", err)
	}
	return ParseTagBuffer(buf, count)
}

func (d *TCPDevice) ClearBuffer(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.roundTrip(cmdClearTagBuf)
	return err
}

func (d *TCPDevice) Probe(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.roundTrip(cmdPing)
	return err
}

func (d *TCPDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// roundTrip sends cmd and consumes the status byte.  The returned conn
// has its deadline set for the rest of the reply.  Caller holds d.mu.
func (d *TCPDevice) roundTrip(cmd byte) (net.Conn, error) {
	if d.conn == nil {
		return nil, hardwareErr("command", errors.New("not connected"))
	}
	if err := d.conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, hardwareErr("set deadline", err)
	}
	if _, err := d.conn.Write([]byte{cmd}); err != nil {
		return nil, hardwareErr(fmt.Sprintf("write command 0x%02x", cmd), err)
	}

	var status [1]byte
	if _, err := io.ReadFull(d.conn, status[:]); err != nil {
		return nil, hardwareErr(fmt.Sprintf("read status for 0x%02x", cmd), err)
	}
	if status[0] != statusOK {
		return nil, hardwareErr(fmt.Sprintf("command 0x%02x", cmd), fmt.Errorf("status 0x%02x", status[0]))
	}
	return d.conn, nil
}

func hardwareErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrHardwareConnection, err))
}
