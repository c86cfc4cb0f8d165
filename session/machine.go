package session

import (
	"net"
	"time"

	"github.com/resonantlabs/rtpmidi/clock"
	"github.com/resonantlabs/rtpmidi/control"
	"github.com/resonantlabs/rtpmidi/rtp"
	"github.com/resonantlabs/rtpmidi/transport"
)

// Handle implements transport.Handler. It demultiplexes by content, not
// by port: both the control and data sockets carry AppleMIDI control
// packets during the handshake (the second invite leg travels on the data
// port), distinguished only by the 0xFFFF signature.
func (s *Session) Handle(port transport.Port, data []byte, from *net.UDPAddr) {
	if looksLikeControlPacket(data) {
		pkt, err := control.Decode(data)
		if err != nil {
			s.logger.Debug("dropping malformed control packet", "from", from, "error", err)
			return
		}
		s.dispatchControl(pkt, from, port)
		return
	}
	s.handleDataPacket(data, from)
}

func looksLikeControlPacket(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xff && data[1] == 0xff
}

func (s *Session) dispatchControl(pkt control.Packet, from *net.UDPAddr, port transport.Port) {
	switch pkt.Cmd {
	case control.CommandInvitation:
		s.onInvite(*pkt.Invite, from, port)
	case control.CommandAccept:
		s.onAccept(*pkt.Invite, from, port)
	case control.CommandReject:
		s.onReject(*pkt.Reject)
	case control.CommandEnd:
		s.onEnd(*pkt.End)
	case control.CommandClockSync:
		s.onClockSync(*pkt.ClockSync, from)
	case control.CommandReceiverFeedback:
		s.logger.Debug("receiver feedback", "ssrc", pkt.Feedback.SenderSSRC, "highest_seq", pkt.Feedback.HighestSequence)
	}
}

// onInvite handles an incoming IN on either socket: a control-port IN is
// policy-checked and answered with OK or NO; a data-port IN (the peer's
// second handshake leg) is matched
// against the pending participant created by the control-port leg and,
// if it matches, promotes the participant to Established.
func (s *Session) onInvite(in control.Invitation, from *net.UDPAddr, port transport.Port) {
	if port == transport.PortControl {
		if s.policy.Decide(in, from) == Reject {
			s.sendReject(from, in.InitiatorToken)
			return
		}

		s.mu.Lock()
		p, existed := s.reg.get(in.SenderSSRC)
		var staleLeft *ParticipantEvent
		if !existed {
			// A peer that restarted its process picks a fresh random
			// SSRC, so the new IN won't match any existing registry
			// entry by SSRC alone; find and drop the stale entry left
			// behind under its old SSRC by matching the host (IP and zone,
			// not the port) of its control address instead, so a restarted
			// peer gets one participant, not two.
			if stale, ok := s.reg.byControlAddr(from); ok {
				s.reg.remove(stale.SSRC)
				if stale.everJoined {
					staleLeft = &ParticipantEvent{SSRC: stale.SSRC, Name: stale.Name, Addr: stale.ControlAddr.String()}
				}
			}
			p = &Participant{
				SSRC:           in.SenderSSRC,
				ControlAddr:    from,
				DataAddr:       dataAddrFor(from),
				Name:           in.Name,
				State:          StateInviteSentData,
				InitiatorToken: in.InitiatorToken,
			}
			s.reg.upsert(in.SenderSSRC, p)
		} else {
			// Duplicate-SSRC invite: refresh the handshake without
			// firing a second ParticipantJoined.
			p.ControlAddr = from
			p.DataAddr = dataAddrFor(from)
			p.Name = in.Name
			p.InitiatorToken = in.InitiatorToken
			p.State = StateInviteSentData
		}
		p.touch(time.Now())
		s.mu.Unlock()

		if staleLeft != nil {
			s.bus.dispatch(EventParticipantLeft, *staleLeft)
		}
		s.sendAcceptOn(transport.PortControl, from, in)
		return
	}

	// Data-port IN: must match a participant already in InviteSent-Data
	// for this SSRC and token.
	s.mu.Lock()
	p, ok := s.reg.get(in.SenderSSRC)
	matched := ok && p.State == StateInviteSentData && p.InitiatorToken == in.InitiatorToken
	var justJoined bool
	if matched {
		p.DataAddr = from
		p.State = StateEstablished
		p.touch(time.Now())
		if !p.everJoined {
			p.everJoined = true
			justJoined = true
		}
	}
	s.mu.Unlock()
	if !matched {
		return
	}

	s.sendAcceptOn(transport.PortData, from, in)
	if justJoined {
		s.bus.dispatch(EventParticipantJoined, ParticipantEvent{SSRC: p.SSRC, Name: p.Name, Addr: p.ControlAddr.String()})
	}
}

// onAccept handles an incoming OK, the response to an invite this
// session initiated.
func (s *Session) onAccept(in control.Invitation, from *net.UDPAddr, port transport.Port) {
	if port == transport.PortControl {
		s.mu.Lock()
		p, ok := s.reg.byInviteToken(in.InitiatorToken)
		if !ok || p.State != StateInviteSentControl {
			s.mu.Unlock()
			return
		}
		s.reg.promote(in.InitiatorToken, in.SenderSSRC)
		p.Name = in.Name
		p.State = StateInviteSentData
		p.touch(time.Now())
		dataAddr := p.DataAddr
		token := p.InitiatorToken
		s.mu.Unlock()

		s.sendDataInvitation(dataAddr, token)
		return
	}

	s.mu.Lock()
	p, ok := s.reg.get(in.SenderSSRC)
	matched := ok && p.State == StateInviteSentData && p.InitiatorToken == in.InitiatorToken
	var justJoined bool
	var ch chan error
	if matched {
		p.DataAddr = from
		p.State = StateEstablished
		p.touch(time.Now())
		if !p.everJoined {
			p.everJoined = true
			justJoined = true
		}
		ch = s.pendingInvites[in.InitiatorToken]
		delete(s.pendingInvites, in.InitiatorToken)
	}
	s.mu.Unlock()
	if !matched {
		return
	}

	if ch != nil {
		ch <- nil
	}
	if justJoined {
		s.bus.dispatch(EventParticipantJoined, ParticipantEvent{SSRC: p.SSRC, Name: p.Name, Addr: p.ControlAddr.String()})
	}
}

// onReject handles an incoming NO: the handshake is abandoned
// immediately, at whichever step it arrives, with no event fired.
func (s *Session) onReject(r control.Reject) {
	s.mu.Lock()
	p, ok := s.reg.byInviteToken(r.InitiatorToken)
	if !ok {
		p, ok = s.findPendingBySSRC(r.SenderSSRC, r.InitiatorToken)
	}
	var ch chan error
	if ok {
		s.reg.removeToken(r.InitiatorToken)
		if p.SSRC != 0 {
			s.reg.remove(p.SSRC)
		}
		ch = s.pendingInvites[r.InitiatorToken]
		delete(s.pendingInvites, r.InitiatorToken)
	}
	s.mu.Unlock()
	if ch != nil {
		ch <- ErrInviteRejected
	}
}

// findPendingBySSRC is the fallback lookup for a NO arriving after the
// peer's SSRC was already learned (promoted) but before Established.
// Caller must hold mu.
func (s *Session) findPendingBySSRC(ssrc, token uint32) (*Participant, bool) {
	p, ok := s.reg.get(ssrc)
	if ok && p.InitiatorToken == token {
		return p, true
	}
	return nil, false
}

// onEnd handles an incoming BY: the participant is removed immediately,
// and a ParticipantLeft fires only if it was ever Established. No BY is
// sent back.
func (s *Session) onEnd(e control.End) {
	s.mu.Lock()
	p, ok := s.reg.get(e.SenderSSRC)
	var left *ParticipantEvent
	if ok {
		s.reg.remove(e.SenderSSRC)
		if p.everJoined {
			left = &ParticipantEvent{SSRC: p.SSRC, Name: p.Name, Addr: p.ControlAddr.String()}
		}
	}
	s.mu.Unlock()
	if left != nil {
		s.bus.dispatch(EventParticipantLeft, *left)
	}
}

// onClockSync advances the three-message NTP-style exchange. Count 0 is
// a probe this session must echo as the responder; count 1 is a reply to
// a probe this session sent, completed by filling
// T3 and echoing as count 2; count 2 is the final leg, recorded without
// a reply.
func (s *Session) onClockSync(ck control.ClockSync, from *net.UDPAddr) {
	s.mu.Lock()
	if p, ok := s.reg.get(ck.SenderSSRC); ok {
		p.touch(time.Now())
	}
	s.mu.Unlock()

	switch ck.Count {
	case 0:
		s.sendClockSync(from, control.ClockSync{
			SenderSSRC: s.ssrc,
			Count:      1,
			T1:         ck.T1,
			T2:         s.clk.Now(),
		})
	case 1:
		t3 := s.clk.Now()
		s.sendClockSync(from, control.ClockSync{
			SenderSSRC: s.ssrc,
			Count:      2,
			T1:         ck.T1,
			T2:         ck.T2,
			T3:         t3,
		})
		s.recordOffset(ck.SenderSSRC, ck.T1, ck.T2, t3)
	case 2:
		s.recordOffset(ck.SenderSSRC, ck.T1, ck.T2, ck.T3)
	}
}

func (s *Session) recordOffset(ssrc uint32, t1, t2, t3 uint64) {
	offset := clock.EstimateOffset(t1, t2, t3)
	s.mu.Lock()
	if p, ok := s.reg.get(ssrc); ok {
		p.Offsets.Push(offset)
	}
	s.mu.Unlock()
}

// handleDataPacket processes one inbound RTP-MIDI data packet. Packets
// from an SSRC not in the registry are dropped silently.
func (s *Session) handleDataPacket(data []byte, from *net.UDPAddr) {
	pkt, err := rtp.Decode(data)
	if err != nil {
		s.logger.Debug("dropping malformed rtp-midi packet", "from", from, "error", err)
		return
	}

	s.mu.Lock()
	p, ok := s.reg.get(pkt.SSRC)
	var sendFeedback bool
	if ok {
		p.touch(time.Now())
		p.receivedDataPackets++
		sendFeedback = s.feedbackInterval > 0 && p.receivedDataPackets%s.feedbackInterval == 0
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.bus.dispatch(EventMidiPacket, MidiEvent{
		SSRC:           pkt.SSRC,
		Timestamp:      pkt.Timestamp,
		SequenceNumber: pkt.SequenceNumber,
		Commands:       pkt.Commands,
	})

	if sendFeedback {
		s.sendFeedback(from, uint32(pkt.SequenceNumber))
	}
}

// clockSyncLoop periodically probes every Established participant. One
// shared ticker serves every peer; a newly Established peer is picked up
// on the next tick.
func (s *Session) clockSyncLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.clockSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.snapshotEstablished() {
				s.sendClockSync(p.DataAddr, control.ClockSync{
					SenderSSRC: s.ssrc,
					Count:      0,
					T1:         s.clk.Now(),
				})
			}
		}
	}
}

// livenessLoop sweeps for participants that have gone silent past the
// liveness timeout, tears them down, and fires ParticipantLeft for any
// that were ever Established.
func (s *Session) livenessLoop() {
	defer s.wg.Done()
	interval := s.livenessTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepDeadParticipants()
		}
	}
}

func (s *Session) sweepDeadParticipants() {
	now := time.Now()
	s.mu.Lock()
	var dead []*Participant
	s.reg.each(func(p *Participant) {
		if now.Sub(p.LastReceived) > s.livenessTimeout {
			dead = append(dead, p)
		}
	})
	for _, p := range dead {
		s.reg.remove(p.SSRC)
	}
	s.mu.Unlock()

	for _, p := range dead {
		s.sendBestEffort(func() error { return s.sendEnd(p.ControlAddr, p.InitiatorToken) })
		if p.everJoined {
			s.bus.dispatch(EventParticipantLeft, ParticipantEvent{SSRC: p.SSRC, Name: p.Name, Addr: p.ControlAddr.String()})
		}
	}
}

func (s *Session) snapshotEstablished() []*Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.established()
}

// --- outbound control-packet senders ---

func (s *Session) sendInvitation(cmd control.Command, addr *net.UDPAddr, token uint32) error {
	payload := control.EncodeInvitation(cmd, control.Invitation{
		Version:        control.ProtocolVersion,
		InitiatorToken: token,
		SenderSSRC:     s.ssrc,
		Name:           s.name,
	})
	return s.mux.SendControl(addr, payload)
}

// sendDataInvitation sends the handshake's second-leg IN on the data
// socket.
func (s *Session) sendDataInvitation(addr *net.UDPAddr, token uint32) {
	payload := control.EncodeInvitation(control.CommandInvitation, control.Invitation{
		Version:        control.ProtocolVersion,
		InitiatorToken: token,
		SenderSSRC:     s.ssrc,
		Name:           s.name,
	})
	if err := s.mux.SendData(addr, payload); err != nil {
		s.logger.Warn("send data-port invite failed", "addr", addr, "error", err)
	}
}

func (s *Session) sendAcceptOn(port transport.Port, addr *net.UDPAddr, in control.Invitation) {
	payload := control.EncodeInvitation(control.CommandAccept, control.Invitation{
		Version:        control.ProtocolVersion,
		InitiatorToken: in.InitiatorToken,
		SenderSSRC:     s.ssrc,
		Name:           s.name,
	})
	var err error
	if port == transport.PortControl {
		err = s.mux.SendControl(addr, payload)
	} else {
		err = s.mux.SendData(addr, payload)
	}
	if err != nil {
		s.logger.Warn("send accept failed", "addr", addr, "port", port, "error", err)
	}
}

func (s *Session) sendReject(addr *net.UDPAddr, token uint32) {
	payload := control.EncodeReject(control.Reject{
		Version:        control.ProtocolVersion,
		InitiatorToken: token,
		SenderSSRC:     s.ssrc,
	})
	if err := s.mux.SendControl(addr, payload); err != nil {
		s.logger.Warn("send reject failed", "addr", addr, "error", err)
	}
}

func (s *Session) sendEnd(addr *net.UDPAddr, token uint32) error {
	payload := control.EncodeEnd(control.End{
		Version:        control.ProtocolVersion,
		InitiatorToken: token,
		SenderSSRC:     s.ssrc,
	})
	return s.mux.SendControl(addr, payload)
}

func (s *Session) sendClockSync(addr *net.UDPAddr, ck control.ClockSync) {
	if err := s.mux.SendData(addr, control.EncodeClockSync(ck)); err != nil {
		s.logger.Debug("send clock sync failed", "addr", addr, "error", err)
	}
}

func (s *Session) sendFeedback(addr *net.UDPAddr, highestSeq uint32) {
	payload := control.EncodeReceiverFeedback(control.ReceiverFeedback{
		SenderSSRC:      s.ssrc,
		HighestSequence: highestSeq,
	})
	if err := s.mux.SendData(addr, payload); err != nil {
		s.logger.Debug("send receiver feedback failed", "addr", addr, "error", err)
	}
}
