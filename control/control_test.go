package control

import (
	"bytes"
	"errors"
	"testing"
)

func TestInvitationRoundTrip(t *testing.T) {
	for _, cmd := range []Command{CommandInvitation, CommandAccept} {
		in := Invitation{Version: ProtocolVersion, InitiatorToken: 0xaabbccdd, SenderSSRC: 0x11223344, Name: "studio"}
		buf := EncodeInvitation(cmd, in)
		pkt, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%s): %v", cmd, err)
		}
		if pkt.Cmd != cmd || pkt.Invite == nil || *pkt.Invite != in {
			t.Fatalf("Decode(%s) = %+v, want %+v", cmd, pkt.Invite, in)
		}
	}
}

func TestRejectRoundTrip(t *testing.T) {
	rj := Reject{Version: ProtocolVersion, InitiatorToken: 1, SenderSSRC: 2}
	pkt, err := Decode(EncodeReject(rj))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Cmd != CommandReject || pkt.Reject == nil || *pkt.Reject != rj {
		t.Fatalf("Decode = %+v", pkt.Reject)
	}
}

func TestEndRoundTrip(t *testing.T) {
	e := End{Version: ProtocolVersion, InitiatorToken: 5, SenderSSRC: 6}
	pkt, err := Decode(EncodeEnd(e))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Cmd != CommandEnd || pkt.End == nil || *pkt.End != e {
		t.Fatalf("Decode = %+v", pkt.End)
	}
}

func TestClockSyncRoundTrip(t *testing.T) {
	ck := ClockSync{SenderSSRC: 7, Count: 1, T1: 100, T2: 200, T3: 300}
	pkt, err := Decode(EncodeClockSync(ck))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Cmd != CommandClockSync || pkt.ClockSync == nil || *pkt.ClockSync != ck {
		t.Fatalf("Decode = %+v", pkt.ClockSync)
	}
}

func TestReceiverFeedbackRoundTrip(t *testing.T) {
	rs := ReceiverFeedback{SenderSSRC: 9, HighestSequence: 1000}
	pkt, err := Decode(EncodeReceiverFeedback(rs))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Cmd != CommandReceiverFeedback || pkt.Feedback == nil || *pkt.Feedback != rs {
		t.Fatalf("Decode = %+v", pkt.Feedback)
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	buf := []byte{0x00, 0x00, 'I', 'N'}
	if _, err := Decode(buf); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestDecodeRejectsUnknownCommand(t *testing.T) {
	buf := []byte{0xff, 0xff, 'X', 'X'}
	if _, err := Decode(buf); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestEncodeInvitationNameIsNulTerminated(t *testing.T) {
	buf := EncodeInvitation(CommandInvitation, Invitation{Name: "x"})
	if !bytes.HasSuffix(buf, []byte{'x', 0x00}) {
		t.Fatalf("expected trailing NUL-terminated name, got % x", buf)
	}
}
