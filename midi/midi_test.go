package midi

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeChannelVoice(t *testing.T) {
	cmd, n, err := Decode([]byte{0x91, 0x40, 0x7f, 0xff})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 3 {
		t.Fatalf("consumed %d bytes, want 3", n)
	}
	if cmd.Kind != KindChannelVoice || cmd.Status != 0x91 || !bytes.Equal(cmd.Data, []byte{0x40, 0x7f}) {
		t.Fatalf("decoded %+v", cmd)
	}
	if ch, ok := cmd.Channel(); !ok || ch != 1 {
		t.Fatalf("Channel() = %d, %v", ch, ok)
	}
}

func TestDecodeSystemRealtimeIsOneByte(t *testing.T) {
	cmd, n, err := Decode([]byte{0xf8})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 1 || cmd.Kind != KindSystemRealtime || len(cmd.Data) != 0 {
		t.Fatalf("decoded %+v, n=%d", cmd, n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Command{
		{Kind: KindChannelVoice, Status: 0x90, Data: []byte{0x40, 0x7f}},
		{Kind: KindChannelVoice, Status: 0xc3, Data: []byte{0x05}},
		{Kind: KindSystemRealtime, Status: 0xfa, Data: nil},
		{Kind: KindSysEx, Status: 0xf0, Data: []byte{0x7e, 0x00, 0x06, 0x01}},
	}
	for _, c := range cases {
		buf := Encode(nil, c)
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%v): %v", c, err)
		}
		if n != len(buf) || got.Kind != c.Kind || !bytes.Equal(got.Data, c.Data) {
			t.Fatalf("round trip mismatch: want %+v, got %+v (n=%d, len=%d)", c, got, n, len(buf))
		}
	}
}

func TestDecodeListSingleFragmentSysEx(t *testing.T) {
	buf := []byte{0xf0, 0x7e, 0x00, 0xf7, 0x90, 0x40, 0x7f}
	cmds, n, err := DecodeList(buf)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if n != len(buf) || len(cmds) != 2 {
		t.Fatalf("decoded %d commands, n=%d", len(cmds), n)
	}
	if cmds[0].Kind != KindSysEx || !bytes.Equal(cmds[0].Data, []byte{0x7e, 0x00}) {
		t.Fatalf("sysex = %+v", cmds[0])
	}
	if cmds[1].Status != 0x90 {
		t.Fatalf("trailing command = %+v", cmds[1])
	}
}

// TestDecodeListStitchesSplitSysEx exercises the fragmentation boundary:
// a SysEx split across two commands in one list, the first ending in
// 0xF0 (continues) and the second starting with 0xF7 (continuation),
// must decode as one logical SysEx command.
func TestDecodeListStitchesSplitSysEx(t *testing.T) {
	buf := []byte{
		0xf0, 0x7e, 0x00, 0xf0, // first fragment, continues
		0xf7, 0x06, 0x01, 0xf7, // continuation, terminates
	}
	cmds, n, err := DecodeList(buf)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if n != len(buf) || len(cmds) != 1 {
		t.Fatalf("decoded %d commands, n=%d", len(cmds), n)
	}
	want := []byte{0x7e, 0x00, 0x06, 0x01}
	if cmds[0].Kind != KindSysEx || !bytes.Equal(cmds[0].Data, want) {
		t.Fatalf("stitched sysex = %+v, want data %x", cmds[0], want)
	}
}

func TestDecodeListStitchesAcrossThreeFragments(t *testing.T) {
	buf := []byte{
		0xf0, 0x01, 0xf0,
		0xf7, 0x02, 0xf0,
		0xf7, 0x03, 0xf7,
	}
	cmds, _, err := DecodeList(buf)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if len(cmds) != 1 || !bytes.Equal(cmds[0].Data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("stitched sysex = %+v", cmds[0])
	}
}

func TestDecodeListUnterminatedSysExErrors(t *testing.T) {
	buf := []byte{0xf0, 0x01, 0xf0, 0xf7, 0x02, 0xf0}
	_, _, err := DecodeList(buf)
	if !errors.Is(err, ErrUnterminatedSysEx) {
		t.Fatalf("expected ErrUnterminatedSysEx, got %v", err)
	}
}

func TestDecodeUnknownStatus(t *testing.T) {
	_, _, err := Decode([]byte{0xf4})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestDecodeTruncatedChannelVoice(t *testing.T) {
	_, _, err := Decode([]byte{0x90, 0x40})
	if !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("expected ErrTruncatedInput, got %v", err)
	}
}
