package session

import "net"

// registry is the in-memory set of remote participants, keyed by SSRC,
// plus a secondary index of invites this session initiated but has not
// yet learned a remote SSRC for, keyed by initiator token until the first
// OK. All methods assume the caller already holds the owning Session's
// lock; the registry itself carries no lock of its own.
type registry struct {
	bySSRC  map[uint32]*Participant
	byToken map[uint32]*Participant
}

func newRegistry() *registry {
	return &registry{
		bySSRC:  make(map[uint32]*Participant),
		byToken: make(map[uint32]*Participant),
	}
}

// pending registers a participant under its pending invitation token,
// before any remote SSRC is known.
func (r *registry) pending(token uint32, p *Participant) {
	r.byToken[token] = p
}

// byInviteToken looks up a participant mid-handshake by the token this
// session generated for it.
func (r *registry) byInviteToken(token uint32) (*Participant, bool) {
	p, ok := r.byToken[token]
	return p, ok
}

// promote moves a participant from the token index to the SSRC index once
// its remote SSRC is learned (from the peer's OK), and drops the token
// entry.
func (r *registry) promote(token uint32, ssrc uint32) {
	p, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	p.SSRC = ssrc
	// A re-invite of a peer already known under this SSRC replaces the
	// old entry; carry everJoined over so the refresh doesn't fire a
	// second ParticipantJoined.
	if old, ok := r.bySSRC[ssrc]; ok && old.everJoined {
		p.everJoined = true
	}
	r.bySSRC[ssrc] = p
}

// get looks up an established or in-progress participant by SSRC.
func (r *registry) get(ssrc uint32) (*Participant, bool) {
	p, ok := r.bySSRC[ssrc]
	return p, ok
}

// upsert inserts p under its SSRC if absent, or returns the existing entry.
func (r *registry) upsert(ssrc uint32, p *Participant) (*Participant, bool) {
	if existing, ok := r.bySSRC[ssrc]; ok {
		return existing, false
	}
	r.bySSRC[ssrc] = p
	return p, true
}

// remove deletes ssrc from both indices (the token index is scanned since
// a participant removed before promotion is keyed only there).
func (r *registry) remove(ssrc uint32) {
	delete(r.bySSRC, ssrc)
	for tok, p := range r.byToken {
		if p.SSRC == ssrc {
			delete(r.byToken, tok)
		}
	}
}

// removeToken removes a still-pending (not yet promoted) invite by token,
// used when a NO or a timeout abandons the handshake before any SSRC was
// learned.
func (r *registry) removeToken(token uint32) {
	delete(r.byToken, token)
}

// byControlAddr finds a participant whose control address shares addr's
// host, used to recognise a restarted peer that picked a fresh SSRC.
func (r *registry) byControlAddr(addr *net.UDPAddr) (*Participant, bool) {
	for _, p := range r.bySSRC {
		if sameHost(p.ControlAddr, addr) {
			return p, true
		}
	}
	return nil, false
}

// each calls fn for every known participant, in unspecified order.
func (r *registry) each(fn func(*Participant)) {
	for _, p := range r.bySSRC {
		fn(p)
	}
}

// established returns every participant currently in StateEstablished.
func (r *registry) established() []*Participant {
	out := make([]*Participant, 0, len(r.bySSRC))
	for _, p := range r.bySSRC {
		if p.State == StateEstablished {
			out = append(out, p)
		}
	}
	return out
}

func sameHost(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Zone == b.Zone
}
