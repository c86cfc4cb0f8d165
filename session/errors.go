package session

import "errors"

// Sentinel reasons for InviteError.
var (
	ErrInviteRejected        = errors.New("session: invite rejected")
	ErrInviteTimedOut        = errors.New("session: invite timed out")
	ErrInvitePeerUnreachable = errors.New("session: peer unreachable")
)

// InviteError wraps one of the above reasons with the address that was
// being invited, and is what InviteParticipant returns on failure.
type InviteError struct {
	Addr   string
	Reason error
}

func (e *InviteError) Error() string {
	return "session: invite to " + e.Addr + " failed: " + e.Reason.Error()
}

func (e *InviteError) Unwrap() error { return e.Reason }

// Sentinel errors returned by SendMIDI.
var (
	// ErrNoParticipants is returned by SendMIDI when the registry has no
	// Established peer to send to.
	ErrNoParticipants = errors.New("session: no established participants")
	// ErrTransportFailed wraps a per-peer send failure; SendMIDI only
	// returns it when every peer failed. Individual failures are logged,
	// not surfaced; no count of them is kept.
	ErrTransportFailed = errors.New("session: transport failed")
)

// ErrCommandListTooLong is returned by SendMIDI when the single command
// exceeds the RTP-MIDI command-list length limit (pathological SysEx).
var ErrCommandListTooLong = errors.New("session: command exceeds 4095 bytes")

// ErrSocketBindFailed is returned by Start when either UDP socket fails
// to bind. It is the only fatal startup error.
var ErrSocketBindFailed = errors.New("session: socket bind failed")
