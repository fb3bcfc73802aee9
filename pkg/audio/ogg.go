package audio

import (
	"bytes"
	"encoding/binary"
)

// Ogg page header flags.
const (
	oggFlagBOS = 0x02
	oggFlagEOS = 0x04

	// oggMaxSegments is the lacing table limit of a single page.
	oggMaxSegments = 255
)

// oggCRCTable is the lookup table for the Ogg CRC-32 (polynomial
// 0x04c11db7, not reflected, zero init, no final xor). hash/crc32 only
// provides the reflected variant.
var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^v]
	}
	return crc
}

// oggWriter muxes packets of one logical bitstream into Ogg pages.
type oggWriter struct {
	out    bytes.Buffer
	serial uint32
	seq    uint32

	// pending packets for the current page.
	packets     [][]byte
	segments    int
	lastGranule int64
}

func newOggWriter(serial uint32) *oggWriter {
	return &oggWriter{serial: serial}
}

// lacingLen returns the number of lacing values a packet of n bytes needs.
func lacingLen(n int) int {
	return n/255 + 1
}

// writePage emits packets as a single page with the given flags and
// granule position.
func (w *oggWriter) writePage(packets [][]byte, flags byte, granule int64) {
	var lacing []byte
	bodyLen := 0
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		bodyLen += len(p)
	}

	page := make([]byte, 27+len(lacing), 27+len(lacing)+bodyLen)
	copy(page[0:4], "OggS")
	page[4] = 0 // stream structure version
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:18], w.serial)
	binary.LittleEndian.PutUint32(page[18:22], w.seq)
	// page[22:26] checksum, filled below
	page[26] = byte(len(lacing))
	copy(page[27:], lacing)
	for _, p := range packets {
		page = append(page, p...)
	}
	binary.LittleEndian.PutUint32(page[22:26], oggCRC(page))

	w.out.Write(page)
	w.seq++
}

// addPacket queues an audio packet, flushing the current page first when the
// packet would not fit into its lacing table. granule is the position at the
// end of the packet.
func (w *oggWriter) addPacket(p []byte, granule int64, maxPackets int) {
	need := lacingLen(len(p))
	if len(w.packets) > 0 && (w.segments+need > oggMaxSegments || len(w.packets) >= maxPackets) {
		w.flush(0, w.lastGranule)
	}
	w.packets = append(w.packets, p)
	w.segments += need
	w.lastGranule = granule
}

// flush writes any pending packets as one page.
func (w *oggWriter) flush(flags byte, granule int64) {
	if len(w.packets) == 0 {
		return
	}
	w.writePage(w.packets, flags, granule)
	w.packets = nil
	w.segments = 0
}
