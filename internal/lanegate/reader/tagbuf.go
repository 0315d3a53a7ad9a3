package reader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedBuffer is returned when a tag buffer packet does not fit
// inside the buffer or is too short to carry an EPC.
var ErrMalformedBuffer = errors.New("malformed tag buffer")

// Tag is one tag sighting as reported by the reader hardware.
type Tag struct {
	EPC     string
	Type    int
	Antenna int
	RSSI    int
}

// Packet layout: [len][type][antenna][epc...][rssi], len counts the bytes
// after itself.
const minPacketLen = 4

// ParseTagBuffer decodes count packets from buf.  Each EPC is returned at
// most once, in first-seen order.
func ParseTagBuffer(buf []byte, count int) ([]Tag, error) {
	if count <= 0 {
		return nil, nil
	}

	tags := make([]Tag, 0, count)
	seen := make(map[string]struct{}, count)

	off := 0
	for i := 0; i < count; i++ {
		if off >= len(buf) {
			return tags, fmt.Errorf("%w: packet %d starts past end (%d bytes)", ErrMalformedBuffer, i, len(buf))
		}
		n := int(buf[off])
		if n < minPacketLen {
			return tags, fmt.Errorf("%w: packet %d length %d", ErrMalformedBuffer, i, n)
		}
		end := off + 1 + n
		if end > len(buf) {
			return tags, fmt.Errorf("%w: packet %d overruns buffer", ErrMalformedBuffer, i)
		}
		pkt := buf[off+1 : end]
		off = end

		epc := strings.ToUpper(hex.EncodeToString(pkt[2 : n-1]))
		if _, dup := seen[epc]; dup {
			continue
		}
		seen[epc] = struct{}{}

		tags = append(tags, Tag{
			EPC:     epc,
			Type:    int(pkt[0]),
			Antenna: int(pkt[1]),
			RSSI:    int(pkt[n-1]),
		})
	}
	return tags, nil
}

// AppendTagPacket encodes t in the reader's packet layout.
func AppendTagPacket(dst []byte, t Tag) ([]byte, error) {
	epc, err := hex.DecodeString(t.EPC)
	if err != nil {
		return dst, fmt.Errorf("tag %q: %w", t.EPC, err)
	}
	if len(epc) == 0 || len(epc) > 255-3 {
		return dst, fmt.Errorf("tag %q: epc length %d", t.EPC, len(epc))
	}
	dst = append(dst, byte(len(epc)+3), byte(t.Type), byte(t.Antenna))
	dst = append(dst, epc...)
	return append(dst, byte(t.RSSI)), nil
}
