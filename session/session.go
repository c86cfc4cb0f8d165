// Package session implements the AppleMIDI/RTP-MIDI session: the
// participant registry, the invite/clock-sync/liveness state machine, the
// event fan-out, and the invite policy, wired on top of the transport
// package's socket multiplexer.
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/resonantlabs/rtpmidi/clock"
	"github.com/resonantlabs/rtpmidi/control"
	"github.com/resonantlabs/rtpmidi/internal/retry"
	"github.com/resonantlabs/rtpmidi/midi"
	"github.com/resonantlabs/rtpmidi/rtp"
	"github.com/resonantlabs/rtpmidi/transport"
)

// Protocol timing defaults, all overridable via Options.
const (
	DefaultInviteResponseTimeout = 5 * time.Second
	DefaultInviteRetryBudget     = 12
	DefaultClockSyncInterval     = 10 * time.Second
	DefaultLivenessTimeout       = 60 * time.Second
	// DefaultFeedbackInterval paces RS emission: one feedback packet per
	// N received data packets rather than one per packet.
	DefaultFeedbackInterval = 64
)

// ServiceAdvertiser publishes the session's presence on the local
// network. If set via WithMDNS, the session registers its control port
// under "_apple-midi._udp." on Start and withdraws it on Stop. No other
// behaviour depends on it; see the mdns package for a concrete
// implementation.
type ServiceAdvertiser interface {
	Advertise(name string, port int) error
	Shutdown()
}

// Option configures a Session at Start time.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

func WithSSRC(ssrc uint32) Option { return func(s *Session) { s.ssrc = ssrc } }

func WithInvitePolicy(p InvitePolicy) Option { return func(s *Session) { s.policy = p } }

func WithInviteResponseTimeout(d time.Duration) Option {
	return func(s *Session) { s.inviteTimeout = d }
}

func WithInviteRetryBudget(n int) Option { return func(s *Session) { s.retryBudget = n } }

func WithClockSyncInterval(d time.Duration) Option {
	return func(s *Session) { s.clockSyncInterval = d }
}

func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Session) { s.livenessTimeout = d }
}

func WithFeedbackInterval(n int) Option { return func(s *Session) { s.feedbackInterval = n } }

// WithMDNS registers the session's control port under "_apple-midi._udp."
// on Start, and withdraws it on Stop.
func WithMDNS(a ServiceAdvertiser) Option { return func(s *Session) { s.advertiser = a } }

// Session is a process-long entity owning two UDP sockets (a control port
// and the data port one above it), the registry of remote participants,
// and the listener table.
type Session struct {
	name  string
	ssrc  uint32
	start time.Time
	clk   clock.Clock

	logger *slog.Logger
	policy InvitePolicy

	inviteTimeout     time.Duration
	retryBudget       int
	clockSyncInterval time.Duration
	livenessTimeout   time.Duration
	feedbackInterval  int

	advertiser ServiceAdvertiser

	mux *transport.Multiplexer
	bus *bus

	// mu guards reg and pendingInvites. Critical sections under mu never
	// perform socket I/O or invoke a listener.
	mu             sync.Mutex
	reg            *registry
	pendingInvites map[uint32]chan error

	seq atomic.Uint32

	inviteGroup singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// Start binds both UDP sockets (control port controlPort and data port
// controlPort+1), spawns the background receive loops, the clock-sync
// ticker, and the liveness sweeper, and returns a ready Session. The only
// error it returns is ErrSocketBindFailed.
func Start(controlPort int, name string, opts ...Option) (*Session, error) {
	s := &Session{
		name:              name,
		ssrc:              randomUint32(),
		start:             time.Now(),
		logger:            slog.Default(),
		policy:            AcceptAll,
		inviteTimeout:     DefaultInviteResponseTimeout,
		retryBudget:       DefaultInviteRetryBudget,
		clockSyncInterval: DefaultClockSyncInterval,
		livenessTimeout:   DefaultLivenessTimeout,
		feedbackInterval:  DefaultFeedbackInterval,
		reg:               newRegistry(),
		pendingInvites:    make(map[uint32]chan error),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.clk = clock.New(s.start)
	s.bus = newBus(s.logger)
	s.seq.Store(randomUint32())

	mux, err := transport.Bind(controlPort, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocketBindFailed, err)
	}
	s.mux = mux

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mux.Start(s.ctx, s)

	s.wg.Add(2)
	go s.clockSyncLoop()
	go s.livenessLoop()

	if s.advertiser != nil {
		if err := s.advertiser.Advertise(name, controlPort); err != nil {
			s.logger.Warn("mdns advertise failed", "error", err)
		}
	}

	s.logger.Info("session started", "name", name, "ssrc", fmt.Sprintf("0x%08x", s.ssrc), "control_port", controlPort)
	return s, nil
}

// SSRC returns the session's local synchronisation source identifier.
func (s *Session) SSRC() uint32 { return s.ssrc }

// Name returns the session's human-readable name.
func (s *Session) Name() string { return s.name }

// AddListener registers fn as a fan-out callback for events of kind.
func (s *Session) AddListener(kind EventKind, fn Listener) {
	s.bus.addListener(kind, fn)
}

// SendMIDI builds one RTP-MIDI data packet containing cmd, assigns the
// next sequence number and the current clock timestamp, and sends it to
// every Established participant's data address. It returns
// ErrNoParticipants if the registry has no Established peer, and
// ErrTransportFailed (with the underlying send error wrapped) only if
// every send failed; per-peer failures otherwise are merely logged.
func (s *Session) SendMIDI(cmd midi.Command) error {
	addrs := s.establishedDataAddrs()
	if len(addrs) == 0 {
		return ErrNoParticipants
	}

	pkt := rtp.Packet{
		SequenceNumber: s.nextSequence(),
		Timestamp:      clock.Truncate32(s.clk.Now()),
		SSRC:           s.ssrc,
		Commands:       []midi.Command{cmd},
	}
	data, err := rtp.Encode(pkt)
	if err != nil {
		if errors.Is(err, rtp.ErrCommandListTooLong) {
			return ErrCommandListTooLong
		}
		return err
	}

	var lastErr error
	sent := 0
	for _, addr := range addrs {
		if err := s.mux.SendData(addr, data); err != nil {
			s.logger.Warn("send midi to peer failed", "addr", addr, "error", err)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("%w: %v", ErrTransportFailed, lastErr)
	}
	return nil
}

func (s *Session) establishedDataAddrs() []*net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	established := s.reg.established()
	addrs := make([]*net.UDPAddr, len(established))
	for i, p := range established {
		addrs[i] = p.DataAddr
	}
	return addrs
}

func (s *Session) nextSequence() uint16 {
	return uint16(s.seq.Add(1))
}

// InviteParticipant initiates the outgoing handshake to addr and blocks
// until the peer is Established, rejects, or the retry budget is
// exhausted. Concurrent calls for the same address collapse into a
// single handshake attempt.
func (s *Session) InviteParticipant(ctx context.Context, addr *net.UDPAddr) error {
	_, err, _ := s.inviteGroup.Do(addr.String(), func() (any, error) {
		return nil, s.inviteOnce(ctx, addr)
	})
	return err
}

func (s *Session) inviteOnce(ctx context.Context, addr *net.UDPAddr) error {
	token := randomUint32()
	p := &Participant{
		ControlAddr:    addr,
		DataAddr:       dataAddrFor(addr),
		State:          StateInviteSentControl,
		InitiatorToken: token,
	}
	ch := make(chan error, 1)

	s.mu.Lock()
	s.reg.pending(token, p)
	s.pendingInvites[token] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pendingInvites, token)
		s.reg.removeToken(token)
		if p.SSRC != 0 {
			s.reg.remove(p.SSRC)
		}
		s.mu.Unlock()
	}

	sched := retry.NewSchedule(s.inviteTimeout, s.retryBudget)
	for attempt := 0; attempt < sched.Attempts(); attempt++ {
		if err := sched.Wait(ctx); err != nil {
			cleanup()
			return &InviteError{Addr: addr.String(), Reason: ctx.Err()}
		}
		if err := s.sendInvitation(control.CommandInvitation, p.ControlAddr, token); err != nil {
			cleanup()
			return &InviteError{Addr: addr.String(), Reason: fmt.Errorf("%w: %v", ErrInvitePeerUnreachable, err)}
		}
		select {
		case err := <-ch:
			if err != nil {
				cleanup()
				return &InviteError{Addr: addr.String(), Reason: err}
			}
			return nil
		case <-time.After(s.inviteTimeout):
			continue
		case <-ctx.Done():
			cleanup()
			return &InviteError{Addr: addr.String(), Reason: ctx.Err()}
		case <-s.ctx.Done():
			cleanup()
			return &InviteError{Addr: addr.String(), Reason: s.ctx.Err()}
		}
	}
	cleanup()
	return &InviteError{Addr: addr.String(), Reason: ErrInviteTimedOut}
}

// Stop gracefully shuts the session down: it cancels the background
// tasks, sends BY best-effort to every Established participant, and
// drops both sockets.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		participants := s.snapshotAll()
		for _, p := range participants {
			if p.State == StateEstablished {
				s.sendBestEffort(func() error { return s.sendEnd(p.ControlAddr, p.InitiatorToken) })
			}
		}

		s.cancel()
		s.mux.Close()
		s.mux.Wait()
		s.wg.Wait()

		if s.advertiser != nil {
			s.advertiser.Shutdown()
		}
		s.logger.Info("session stopped", "name", s.name)
	})
}

func (s *Session) snapshotAll() []*Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Participant, 0, len(s.reg.bySSRC))
	s.reg.each(func(p *Participant) { out = append(out, p) })
	return out
}

func (s *Session) sendBestEffort(fn func() error) {
	if err := fn(); err != nil {
		s.logger.Debug("best-effort send failed", "error", err)
	}
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
