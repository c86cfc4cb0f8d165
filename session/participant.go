package session

import (
	"net"
	"time"

	"github.com/resonantlabs/rtpmidi/clock"
)

// State is a participant's position in the invite/accept/clock-sync/
// teardown state machine.
type State int

const (
	StateInviteSentControl State = iota
	StateInviteSentData
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateInviteSentControl:
		return "InviteSent-Control"
	case StateInviteSentData:
		return "InviteSent-Data"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Participant is one remote peer known to the session. All field access
// happens under the owning Session's registry lock; Participant itself
// holds no lock.
type Participant struct {
	SSRC        uint32
	ControlAddr *net.UDPAddr
	DataAddr    *net.UDPAddr // same IP as ControlAddr, port+1
	Name        string
	State       State

	// InitiatorToken correlates an in-flight invite handshake with its
	// response; it is regenerated on every new handshake attempt.
	InitiatorToken uint32

	LastReceived time.Time

	// Offsets accumulates clock-sync offset estimates; the running
	// median is the participant's current clock offset.
	Offsets clock.OffsetRing

	// everJoined guards against a refreshed duplicate-SSRC invite firing a
	// second ParticipantJoined.
	everJoined bool

	// receivedDataPackets counts inbound RTP-MIDI packets, driving the
	// ReceiverFeedback cadence.
	receivedDataPackets int
}

// Established reports whether both control and data handshakes have been
// acknowledged.
func (p *Participant) Established() bool {
	return p.State == StateEstablished
}

// touch records that a packet was just received from this participant,
// resetting the liveness timer.
func (p *Participant) touch(now time.Time) {
	p.LastReceived = now
}

// dataAddrFor derives a UDP data address (control IP, control port+1) for
// a freshly learned control address.
func dataAddrFor(controlAddr *net.UDPAddr) *net.UDPAddr {
	return &net.UDPAddr{IP: controlAddr.IP, Port: controlAddr.Port + 1, Zone: controlAddr.Zone}
}
