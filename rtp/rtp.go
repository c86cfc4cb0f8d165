// Package rtp implements the RTP-MIDI data packet: a fixed 12-byte RTP
// header followed by a MIDI command-list header, the command sequence
// itself, and (optionally) a recovery journal that this implementation
// never populates on write and only skips over on read.
//
// see https://en.wikipedia.org/wiki/RTP-MIDI
// see https://tools.ietf.org/html/rfc6295
package rtp

import (
	"errors"
	"fmt"

	"github.com/resonantlabs/rtpmidi/midi"
	"github.com/resonantlabs/rtpmidi/wire"
)

// Fixed RTP header constants (RFC 3550 §5.1), specialised to RTP-MIDI.
const (
	version2Bit  = 0x80
	payloadType  = 0x61 // 97, the static RTP-MIDI payload type
	headerLength = 12
)

// MIDI command-list header bits (RFC 6295 §3).
const (
	bigHeaderBit = 0x80 // B: next byte carries the length's low 8 bits
	journalBit   = 0x40 // J: a recovery journal follows the command list
	zeroDeltaBit = 0x20 // Z: a delta-time precedes the first command
	phantomBit   = 0x10 // P: first command's status byte was omitted (unused here)
	shortLenMask = 0x0f
	longLenMask  = 0x0fff
	maxShortLen  = 15
	maxLongLen   = 4095
)

// ErrCommandListTooLong is returned by Encode when the command list would
// exceed the 12-bit length field (4095 bytes).
var ErrCommandListTooLong = errors.New("rtp: command list exceeds 4095 bytes")

// ErrTruncatedInput is returned by Decode on a short or malformed buffer.
var ErrTruncatedInput = wire.ErrTruncated

// ErrBadSignature is returned by Decode when the fixed header does not
// describe an RTP-MIDI packet (version 2, payload type 0x61).
var ErrBadSignature = errors.New("rtp: not an rtp-midi packet")

// Packet is one RTP-MIDI data packet: the RTP header fields relevant to
// this transport plus the decoded MIDI command list. Delta-times are
// always zero on encode, every command sharing the packet timestamp; on
// decode each command keeps its position within Commands but the
// delta-times themselves are not surfaced.
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Commands       []midi.Command
}

func (p Packet) String() string {
	return fmt.Sprintf("rtp-midi seq=%d ts=%d ssrc=0x%08x commands=%d", p.SequenceNumber, p.Timestamp, p.SSRC, len(p.Commands))
}

// Encode serialises p into one RTP-MIDI datagram.
func Encode(p Packet) ([]byte, error) {
	listLen, err := encodedListLength(p.Commands)
	if err != nil {
		return nil, err
	}

	w := wire.NewWriter(headerLength + 2 + listLen)
	w.U8(version2Bit) // V=2, P=0, X=0, CC=0
	w.U8(payloadType) // M=0, PT=0x61
	w.U16(p.SequenceNumber)
	w.U32(p.Timestamp)
	w.U32(p.SSRC)

	writeCommandList(w, p.Commands)
	return w.Done(), nil
}

func encodedListLength(cmds []midi.Command) (int, error) {
	n := 0
	for i, c := range cmds {
		if i > 0 {
			n++ // zero delta-time octet
		}
		n += len(midi.Encode(nil, c))
	}
	if n > maxLongLen {
		return 0, ErrCommandListTooLong
	}
	return n, nil
}

// writeCommandList writes the MIDI list header (Z=0, J=0, P=0) followed by
// the command bytes. Z=0 means the first command carries no delta-time;
// each subsequent command is preceded by a single zero delta-time octet,
// keeping every command at the packet timestamp.
func writeCommandList(w *wire.Writer, cmds []midi.Command) {
	var body []byte
	for i, c := range cmds {
		if i > 0 {
			body = append(body, 0x00)
		}
		body = midi.Encode(body, c)
	}

	switch {
	case len(body) == 0:
		w.U8(0)
	case len(body) > maxShortLen:
		header := byte(bigHeaderBit) | byte((len(body)>>8)&shortLenMask)
		w.U8(header)
		w.U8(byte(len(body)))
	default:
		w.U8(byte(len(body)) & shortLenMask)
	}
	w.Bytes(body)
}

// Decode parses buf into a Packet.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < headerLength {
		return Packet{}, ErrTruncatedInput
	}
	r := wire.NewReader(buf)

	first, _ := r.U8()
	if first&version2Bit == 0 {
		return Packet{}, ErrBadSignature
	}
	second, _ := r.U8()
	if second&0x7f != payloadType {
		return Packet{}, ErrBadSignature
	}

	var p Packet
	var err error
	if p.SequenceNumber, err = r.U16(); err != nil {
		return Packet{}, err
	}
	if p.Timestamp, err = r.U32(); err != nil {
		return Packet{}, err
	}
	if p.SSRC, err = r.U32(); err != nil {
		return Packet{}, err
	}

	listHeader, err := r.U8()
	if err != nil {
		return Packet{}, err
	}
	bigHeader := listHeader&bigHeaderBit != 0
	hasJournal := listHeader&journalBit != 0
	hasDeltaFirst := listHeader&zeroDeltaBit != 0

	var listLen int
	if bigHeader {
		second2, err := r.U8()
		if err != nil {
			return Packet{}, err
		}
		listLen = (int(listHeader&shortLenMask) << 8) | int(second2)
	} else {
		listLen = int(listHeader & shortLenMask)
	}

	listBuf, err := r.Bytes(listLen)
	if err != nil {
		return Packet{}, err
	}

	cmds, err := decodeCommandList(listBuf, hasDeltaFirst)
	if err != nil {
		return Packet{}, err
	}
	p.Commands = cmds

	if hasJournal {
		// The journal's own header carries its length; this library does
		// not act on its contents (no recovery journal support), so the
		// remainder of the buffer is simply not consumed.
	}

	return p, nil
}

// decodeCommandList strips any delta-time prefix (7-bit groups, high bit
// = continuation) preceding each command, copying the raw command bytes
// that remain into one contiguous buffer, then hands that buffer to
// midi.DecodeList for parsing and SysEx stitching. Delta-times themselves
// are discarded: packets are delivered as received, with no reordering,
// so the relative timing they would encode is not needed.
func decodeCommandList(buf []byte, firstHasDelta bool) ([]midi.Command, error) {
	stripped := make([]byte, 0, len(buf))
	offset := 0
	first := true
	for offset < len(buf) {
		if !(first && !firstHasDelta) {
			for offset < len(buf) {
				b := buf[offset]
				offset++
				if b&0x80 == 0 {
					break
				}
			}
		}
		if offset >= len(buf) {
			break
		}
		// midi.Decode is only used here to learn how many raw bytes this
		// one command occupies; the command itself (and SysEx stitching)
		// is decoded once, below, from the delta-stripped buffer.
		_, n, err := midi.Decode(buf[offset:])
		if err != nil {
			return nil, err
		}
		stripped = append(stripped, buf[offset:offset+n]...)
		offset += n
		first = false
	}
	cmds, _, err := midi.DecodeList(stripped)
	return cmds, err
}
