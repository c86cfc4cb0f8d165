// Package control implements the AppleMIDI session-initiation and
// clock-synchronisation control packets: Invitation, Accept, Reject, End,
// Clock-Sync, and Receiver-Feedback. Every packet begins with the
// signature 0xFFFF followed by a two-ASCII-byte command code.
package control

import (
	"errors"
	"fmt"

	"github.com/resonantlabs/rtpmidi/wire"
)

// ProtocolVersion is the AppleMIDI protocol version sent in IN/OK/NO/BY
// payloads.
const ProtocolVersion = 2

const signature = 0xffff

// Command is the two-ASCII-byte code following the signature.
type Command [2]byte

var (
	CommandInvitation       = Command{'I', 'N'}
	CommandAccept           = Command{'O', 'K'}
	CommandReject           = Command{'N', 'O'}
	CommandEnd              = Command{'B', 'Y'}
	CommandClockSync        = Command{'C', 'K'}
	CommandReceiverFeedback = Command{'R', 'S'}
)

func (c Command) String() string { return string(c[:]) }

// Errors returned by Decode. Never surfaced past the session's receive
// loop; the caller logs and drops the offending packet.
var (
	ErrTruncatedInput       = wire.ErrTruncated
	ErrBadSignature         = errors.New("control: bad signature")
	ErrUnknownCommand       = errors.New("control: unknown command code")
	ErrNameNotNulTerminated = errors.New("control: name not nul terminated")
)

// Invitation is the payload shared by IN and OK packets.
type Invitation struct {
	Version        uint32
	InitiatorToken uint32
	SenderSSRC     uint32
	Name           string
}

// Reject is the payload of a NO packet (an Invitation without the name).
type Reject struct {
	Version        uint32
	InitiatorToken uint32
	SenderSSRC     uint32
}

// End is the payload of a BY packet.
type End struct {
	Version        uint32
	InitiatorToken uint32
	SenderSSRC     uint32
}

// ClockSync is the payload of a CK packet. Count identifies which leg of
// the three-message exchange this is (0, 1, or 2); unused timestamps are
// zero.
type ClockSync struct {
	SenderSSRC uint32
	Count      uint8
	T1, T2, T3 uint64
}

// ReceiverFeedback is the payload of an RS packet.
type ReceiverFeedback struct {
	SenderSSRC      uint32
	HighestSequence uint32
}

// Packet is the decoded form of any AppleMIDI control packet: exactly one
// of the typed fields is non-nil, matching Cmd.
type Packet struct {
	Cmd Command

	Invite    *Invitation       // IN or OK
	Reject    *Reject           // NO
	End       *End              // BY
	ClockSync *ClockSync        // CK
	Feedback  *ReceiverFeedback // RS
}

func (p Packet) String() string {
	return fmt.Sprintf("control(%s)", p.Cmd)
}

// EncodeInvitation encodes an IN or OK packet.
func EncodeInvitation(cmd Command, in Invitation) []byte {
	w := wire.NewWriter(16 + len(in.Name))
	w.U16(signature)
	w.Bytes(cmd[:])
	w.U32(in.Version)
	w.U32(in.InitiatorToken)
	w.U32(in.SenderSSRC)
	w.CString(in.Name)
	return w.Done()
}

// EncodeReject encodes a NO packet.
func EncodeReject(r Reject) []byte {
	w := wire.NewWriter(16)
	w.U16(signature)
	w.Bytes(CommandReject[:])
	w.U32(r.Version)
	w.U32(r.InitiatorToken)
	w.U32(r.SenderSSRC)
	return w.Done()
}

// EncodeEnd encodes a BY packet.
func EncodeEnd(e End) []byte {
	w := wire.NewWriter(16)
	w.U16(signature)
	w.Bytes(CommandEnd[:])
	w.U32(e.Version)
	w.U32(e.InitiatorToken)
	w.U32(e.SenderSSRC)
	return w.Done()
}

// EncodeClockSync encodes a CK packet.
func EncodeClockSync(ck ClockSync) []byte {
	w := wire.NewWriter(36)
	w.U16(signature)
	w.Bytes(CommandClockSync[:])
	w.U32(ck.SenderSSRC)
	w.U8(ck.Count)
	w.Bytes([]byte{0, 0, 0})
	w.U64(ck.T1)
	w.U64(ck.T2)
	w.U64(ck.T3)
	return w.Done()
}

// EncodeReceiverFeedback encodes an RS packet.
func EncodeReceiverFeedback(rs ReceiverFeedback) []byte {
	w := wire.NewWriter(12)
	w.U16(signature)
	w.Bytes(CommandReceiverFeedback[:])
	w.U32(rs.SenderSSRC)
	w.U32(rs.HighestSequence)
	return w.Done()
}

// Decode parses any AppleMIDI control packet.
func Decode(buf []byte) (Packet, error) {
	r := wire.NewReader(buf)
	sig, err := r.U16()
	if err != nil {
		return Packet{}, err
	}
	if sig != signature {
		return Packet{}, fmt.Errorf("%w: got 0x%04x", ErrBadSignature, sig)
	}
	codeBytes, err := r.Bytes(2)
	if err != nil {
		return Packet{}, err
	}
	cmd := Command{codeBytes[0], codeBytes[1]}

	switch cmd {
	case CommandInvitation, CommandAccept:
		in, err := decodeInvitation(r)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Cmd: cmd, Invite: &in}, nil
	case CommandReject:
		rj, err := decodeReject(r)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Cmd: cmd, Reject: &rj}, nil
	case CommandEnd:
		e, err := decodeEnd(r)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Cmd: cmd, End: &e}, nil
	case CommandClockSync:
		ck, err := decodeClockSync(r)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Cmd: cmd, ClockSync: &ck}, nil
	case CommandReceiverFeedback:
		rs, err := decodeReceiverFeedback(r)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Cmd: cmd, Feedback: &rs}, nil
	default:
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func decodeInvitation(r *wire.Reader) (Invitation, error) {
	var in Invitation
	var err error
	if in.Version, err = r.U32(); err != nil {
		return in, err
	}
	if in.InitiatorToken, err = r.U32(); err != nil {
		return in, err
	}
	if in.SenderSSRC, err = r.U32(); err != nil {
		return in, err
	}
	name, err := r.CString()
	if err != nil {
		return in, ErrNameNotNulTerminated
	}
	in.Name = name
	return in, nil
}

func decodeReject(r *wire.Reader) (Reject, error) {
	var rj Reject
	var err error
	if rj.Version, err = r.U32(); err != nil {
		return rj, err
	}
	if rj.InitiatorToken, err = r.U32(); err != nil {
		return rj, err
	}
	if rj.SenderSSRC, err = r.U32(); err != nil {
		return rj, err
	}
	return rj, nil
}

func decodeEnd(r *wire.Reader) (End, error) {
	var e End
	var err error
	if e.Version, err = r.U32(); err != nil {
		return e, err
	}
	if e.InitiatorToken, err = r.U32(); err != nil {
		return e, err
	}
	if e.SenderSSRC, err = r.U32(); err != nil {
		return e, err
	}
	return e, nil
}

func decodeClockSync(r *wire.Reader) (ClockSync, error) {
	var ck ClockSync
	var err error
	if ck.SenderSSRC, err = r.U32(); err != nil {
		return ck, err
	}
	if ck.Count, err = r.U8(); err != nil {
		return ck, err
	}
	if err = r.Skip(3); err != nil {
		return ck, err
	}
	if ck.T1, err = r.U64(); err != nil {
		return ck, err
	}
	if ck.T2, err = r.U64(); err != nil {
		return ck, err
	}
	if ck.T3, err = r.U64(); err != nil {
		return ck, err
	}
	return ck, nil
}

func decodeReceiverFeedback(r *wire.Reader) (ReceiverFeedback, error) {
	var rs ReceiverFeedback
	var err error
	if rs.SenderSSRC, err = r.U32(); err != nil {
		return rs, err
	}
	if rs.HighestSequence, err = r.U32(); err != nil {
		return rs, err
	}
	return rs, nil
}
