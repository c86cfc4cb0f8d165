// Package midi implements the MIDI command codec used inside one RTP-MIDI
// command list: encoding and decoding of channel voice, system common,
// system real-time, and SysEx commands to and from bytes.
//
// Command length table based on the NodeJS midi-common package, selected
// features and functionality only.
package midi

import (
	"errors"
	"fmt"
)

// Kind classifies a decoded Command.
type Kind int

const (
	KindChannelVoice Kind = iota
	KindSystemCommon
	KindSystemRealtime
	KindSysEx
)

// Errors returned by Decode/DecodeList. These are never surfaced past the
// session's receive loop; callers there log and drop the offending packet.
var (
	ErrTruncatedInput    = errors.New("midi: truncated input")
	ErrUnknownStatus     = errors.New("midi: unknown status byte")
	ErrUnterminatedSysEx = errors.New("midi: unterminated sysex")
)

// Command is a single decoded MIDI command. SysEx payloads never include
// the leading 0xF0 or the trailing 0xF7; all other commands carry their
// status byte as Status and their data bytes in Data.
type Command struct {
	Kind   Kind
	Status byte
	Data   []byte
}

// Channel returns the MIDI channel (0-15) for a channel voice command, and
// ok=false for any other kind.
func (c Command) Channel() (ch byte, ok bool) {
	if c.Kind != KindChannelVoice {
		return 0, false
	}
	return c.Status & 0x0f, true
}

func (c Command) String() string {
	if c.Kind == KindSysEx {
		return fmt.Sprintf("sysex(%d bytes)", len(c.Data))
	}
	return fmt.Sprintf("status=0x%02x data=% x", c.Status, c.Data)
}

type commandInfo struct {
	dataLength int
	name       string
}

// commandsInfos maps a status byte (or, for channel voice commands, the
// high nibble) to its data length and mnemonic name.
var commandsInfos = map[byte]commandInfo{
	// Channel Voice Messages
	0x80: {dataLength: 2, name: "noteOff"},
	0x90: {dataLength: 2, name: "noteOn"},
	0xa0: {dataLength: 2, name: "polyphonicAftertouch"},
	0xb0: {dataLength: 2, name: "controlChange"},
	0xc0: {dataLength: 1, name: "programChange"},
	0xd0: {dataLength: 1, name: "channelAftertouch"},
	0xe0: {dataLength: 2, name: "pitchBend"},

	// System Common Messages
	0xf0: {dataLength: -1, name: "systemExclusive"}, // terminated by 0xf7
	0xf1: {dataLength: 1, name: "quarterFrame"},
	0xf2: {dataLength: 2, name: "songPosition"},
	0xf3: {dataLength: 1, name: "songSelect"},
	0xf6: {dataLength: 0, name: "tuneRequest"},

	// System Real-Time Messages
	0xf8: {dataLength: 0, name: "clock"},
	0xfa: {dataLength: 0, name: "start"},
	0xfb: {dataLength: 0, name: "continue"},
	0xfc: {dataLength: 0, name: "stop"},
	0xfe: {dataLength: 0, name: "activeSensing"},
	0xff: {dataLength: 0, name: "reset"},
}

func lookup(status byte) (commandInfo, bool) {
	if info, ok := commandsInfos[status]; ok {
		return info, true
	}
	if status < 0xf0 {
		if info, ok := commandsInfos[status&0xf0]; ok {
			return info, true
		}
	}
	return commandInfo{}, false
}

func kindOf(status byte) Kind {
	switch {
	case status == 0xf0:
		return KindSysEx
	case status >= 0xf8:
		return KindSystemRealtime
	case status >= 0xf0:
		return KindSystemCommon
	default:
		return KindChannelVoice
	}
}

// Decode reads one MIDI command from buf, which must begin with a status
// byte (running status within one command list is not supported; the
// RTP-MIDI command-list header flags are used instead). It returns the
// command and the number of bytes consumed.
//
// A SysEx fragment ending in 0xF0 instead of 0xF7 is returned with a
// trailing 0xF0 marker in Data, signalling to DecodeList that the logical
// SysEx continues in the next command.
func Decode(buf []byte) (Command, int, error) {
	if len(buf) == 0 {
		return Command{}, 0, ErrTruncatedInput
	}
	status := buf[0]
	if status&0x80 == 0 {
		return Command{}, 0, fmt.Errorf("%w: 0x%02x is a data byte", ErrUnknownStatus, status)
	}

	switch status {
	case 0xf0:
		return decodeSysExStart(buf)
	case 0xf7:
		return decodeSysExContinuation(buf)
	}

	info, ok := lookup(status)
	if !ok {
		return Command{}, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownStatus, status)
	}
	n := 1 + info.dataLength
	if len(buf) < n {
		return Command{}, 0, ErrTruncatedInput
	}
	cmd := Command{
		Kind:   kindOf(status),
		Status: status,
		Data:   append([]byte(nil), buf[1:n]...),
	}
	return cmd, n, nil
}

// decodeSysExStart consumes bytes from the leading 0xF0 up to and
// including a terminating 0xF7, or up to a trailing 0xF0 (continued in a
// later command), or errors if neither is found before the buffer ends.
func decodeSysExStart(buf []byte) (Command, int, error) {
	i := 1
	for i < len(buf) && buf[i] < 0x80 {
		i++
	}
	if i == len(buf) {
		return Command{}, 0, ErrUnterminatedSysEx
	}
	switch buf[i] {
	case 0xf7:
		return Command{Kind: KindSysEx, Status: 0xf0, Data: append([]byte(nil), buf[1:i]...)}, i + 1, nil
	case 0xf0:
		return Command{Kind: KindSysEx, Status: 0xf0, Data: append([]byte(nil), buf[1:i+1]...)}, i + 1, nil
	default:
		return Command{}, 0, fmt.Errorf("%w: sysex interrupted by 0x%02x", ErrUnterminatedSysEx, buf[i])
	}
}

// decodeSysExContinuation consumes a 0xF7-prefixed SysEx continuation
// fragment, terminated by a final 0xF7 or continuing with a trailing 0xF0.
func decodeSysExContinuation(buf []byte) (Command, int, error) {
	i := 1
	for i < len(buf) && buf[i] < 0x80 {
		i++
	}
	if i == len(buf) {
		return Command{}, 0, ErrUnterminatedSysEx
	}
	switch buf[i] {
	case 0xf7:
		return Command{Kind: KindSysEx, Status: 0xf7, Data: append([]byte(nil), buf[1:i]...)}, i + 1, nil
	case 0xf0:
		return Command{Kind: KindSysEx, Status: 0xf7, Data: append([]byte(nil), buf[1:i+1]...)}, i + 1, nil
	default:
		return Command{}, 0, fmt.Errorf("%w: sysex interrupted by 0x%02x", ErrUnterminatedSysEx, buf[i])
	}
}

// sysExContinues reports whether a decoded SysEx fragment ends with the
// to-be-continued marker, returning the fragment with the marker stripped.
func sysExContinues(c Command) (Command, bool) {
	if c.Kind != KindSysEx || len(c.Data) == 0 || c.Data[len(c.Data)-1] != 0xf0 {
		return c, false
	}
	c.Data = c.Data[:len(c.Data)-1]
	return c, true
}

// DecodeList decodes every command in buf in sequence, stitching SysEx
// fragments that span multiple commands (one ending in 0xF0, the next
// beginning with 0xF7) into a single logical Command. It returns the
// decoded commands and the total number of bytes consumed.
func DecodeList(buf []byte) ([]Command, int, error) {
	var out []Command
	var pending *Command
	total := 0
	for total < len(buf) {
		cmd, n, err := Decode(buf[total:])
		if err != nil {
			return out, total, err
		}
		total += n

		if pending != nil {
			pending.Data = append(pending.Data, cmd.Data...)
			if stitched, more := sysExContinues(*pending); more {
				pending = &stitched
				continue
			}
			out = append(out, *pending)
			pending = nil
			continue
		}

		if stitched, more := sysExContinues(cmd); more {
			pending = &stitched
			continue
		}
		out = append(out, cmd)
	}
	if pending != nil {
		return out, total, ErrUnterminatedSysEx
	}
	return out, total, nil
}

// Encode appends c's wire bytes (status byte plus data, or the full
// 0xF0...0xF7 framing for SysEx) to dst and returns the result.
func Encode(dst []byte, c Command) []byte {
	if c.Kind == KindSysEx {
		dst = append(dst, 0xf0)
		dst = append(dst, c.Data...)
		dst = append(dst, 0xf7)
		return dst
	}
	dst = append(dst, c.Status)
	dst = append(dst, c.Data...)
	return dst
}
