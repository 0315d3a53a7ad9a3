package reader_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanegate/server/internal/lanegate/reader"
)

// fakeBridge answers the reader bridge protocol on a loopback listener.
type fakeBridge struct {
	ln net.Listener

	mu       sync.Mutex
	tags     []reader.Tag
	commands []byte
	status   byte
	body     []byte // replaces the next GetTagBuf reply after the status byte
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &fakeBridge{ln: ln, status: 0x01}
	go b.serve()
	t.Cleanup(func() { ln.Close() })
	return b
}

func (b *fakeBridge) addr() string { return b.ln.Addr().String() }

func (b *fakeBridge) setTags(tags ...reader.Tag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags = tags
}

func (b *fakeBridge) setStatus(s byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

func (b *fakeBridge) replyOnce(count, size uint16, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body := binary.BigEndian.AppendUint16(nil, count)
	body = binary.BigEndian.AppendUint16(body, size)
	b.body = append(body, payload...)
}

func (b *fakeBridge) seen() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.commands...)
}

func (b *fakeBridge) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.handle(conn)
	}
}

func (b *fakeBridge) handle(conn net.Conn) {
	defer conn.Close()
	var cmd [1]byte
	for {
		if _, err := io.ReadFull(conn, cmd[:]); err != nil {
			return
		}

		b.mu.Lock()
		b.commands = append(b.commands, cmd[0])
		status := b.status
		tags := b.tags
		body := b.body
		if cmd[0] == 0x01 {
			b.body = nil
		}
		b.mu.Unlock()

		reply := []byte{status}
		if status == 0x01 {
			switch cmd[0] {
			case 0x01:
				if body != nil {
					reply = append(reply, body...)
					break
				}
				var buf []byte
				for _, t := range tags {
					buf, _ = reader.AppendTagPacket(buf, t)
				}
				reply = binary.BigEndian.AppendUint16(reply, uint16(len(tags)))
				reply = binary.BigEndian.AppendUint16(reply, uint16(len(buf)))
				reply = append(reply, buf...)
			case 0x02:
				b.mu.Lock()
				b.tags = nil
				b.mu.Unlock()
			}
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

func TestTCPDevice_ConnectClearsThenReads(t *testing.T) {
	b := newFakeBridge(t)
	b.setTags(reader.Tag{EPC: "AB12", Type: 1})

	dev := reader.NewTCPDevice(b.addr(), time.Second)
	ctx := context.Background()
	require.NoError(t, dev.Connect(ctx))
	defer dev.Disconnect()

	tags, err := dev.ReadTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags, "connect clears the hardware buffer")

	b.setTags(
		reader.Tag{EPC: "E2801160", Type: 1, Antenna: 1, RSSI: 200},
		reader.Tag{EPC: "E2801160", Type: 1, Antenna: 2, RSSI: 190},
		reader.Tag{EPC: "30340000", Type: 2, Antenna: 1, RSSI: 180},
	)
	tags, err = dev.ReadTags(ctx)
	require.NoError(t, err)

	want := []reader.Tag{
		{EPC: "E2801160", Type: 1, Antenna: 1, RSSI: 200},
		{EPC: "30340000", Type: 2, Antenna: 1, RSSI: 180},
	}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Fatalf("ReadTags mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, dev.Probe(ctx))
	require.NoError(t, dev.ClearBuffer(ctx))
	assert.Equal(t, []byte{0x02, 0x01, 0x01, 0x03, 0x02}, b.seen())
}

func TestTCPDevice_BadStatusIsHardwareError(t *testing.T) {
	b := newFakeBridge(t)
	dev := reader.NewTCPDevice(b.addr(), time.Second)
	ctx := context.Background()
	require.NoError(t, dev.Connect(ctx))
	defer dev.Disconnect()

	b.setStatus(0x00)
	err := dev.Probe(ctx)
	assert.ErrorIs(t, err, reader.ErrHardwareConnection)
}

func TestTCPDevice_NotConnected(t *testing.T) {
	dev := reader.NewTCPDevice("127.0.0.1:1", 50*time.Millisecond)

	_, err := dev.ReadTags(context.Background())
	assert.ErrorIs(t, err, reader.ErrHardwareConnection)
	assert.NoError(t, dev.Disconnect())
}

func TestTCPDevice_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	dev := reader.NewTCPDevice(addr, 100*time.Millisecond)
	err = dev.Connect(context.Background())
	assert.ErrorIs(t, err, reader.ErrHardwareConnection)
}

func TestTCPDevice_OversizeReplyIsDrained(t *testing.T) {
	b := newFakeBridge(t)
	dev := reader.NewTCPDevice(b.addr(), time.Second)
	ctx := context.Background()
	require.NoError(t, dev.Connect(ctx))
	defer dev.Disconnect()

	b.replyOnce(1, 10000, make([]byte, 10000))
	_, err := dev.ReadTags(ctx)
	require.ErrorIs(t, err, reader.ErrMalformedBuffer)
	assert.NotErrorIs(t, err, reader.ErrHardwareConnection)

	// The connection stays in sync for the clear that follows.
	require.NoError(t, dev.ClearBuffer(ctx))
	require.NoError(t, dev.Probe(ctx))
}

func TestTCPDevice_ZeroCountReplyIsDrained(t *testing.T) {
	b := newFakeBridge(t)
	dev := reader.NewTCPDevice(b.addr(), time.Second)
	ctx := context.Background()
	require.NoError(t, dev.Connect(ctx))
	defer dev.Disconnect()

	b.replyOnce(0, 8, []byte{0x07, 0x01, 0x01, 0xAB, 0x12, 0x00, 0x00, 0xC8})
	tags, err := dev.ReadTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)

	require.NoError(t, dev.Probe(ctx))

	b.setTags(reader.Tag{EPC: "AB12", Type: 1, Antenna: 1, RSSI: 200})
	tags, err = dev.ReadTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}
