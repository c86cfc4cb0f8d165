package session

import (
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/resonantlabs/rtpmidi/control"
)

// Decision is the outcome of an InvitePolicy decision.
type Decision int

const (
	Accept Decision = iota
	Reject
)

// InvitePolicy decides whether to accept an incoming invitation. Custom
// implementations receive the parsed invite and the source address.
type InvitePolicy interface {
	Decide(invite control.Invitation, source net.Addr) Decision
}

// PolicyFunc adapts a plain function to InvitePolicy.
type PolicyFunc func(invite control.Invitation, source net.Addr) Decision

func (f PolicyFunc) Decide(invite control.Invitation, source net.Addr) Decision {
	return f(invite, source)
}

// acceptAllPolicy accepts every incoming invite.
type acceptAllPolicy struct{}

func (acceptAllPolicy) Decide(control.Invitation, net.Addr) Decision { return Accept }

// AcceptAll is an InvitePolicy that accepts every incoming invitation.
var AcceptAll InvitePolicy = acceptAllPolicy{}

// rejectAllPolicy rejects every incoming invite.
type rejectAllPolicy struct{}

func (rejectAllPolicy) Decide(control.Invitation, net.Addr) Decision { return Reject }

// RejectAll is an InvitePolicy that rejects every incoming invitation.
var RejectAll InvitePolicy = rejectAllPolicy{}

// RateLimitedPolicy wraps another policy and additionally rejects invites
// from a source IP once it exceeds a per-IP token-bucket rate, guarding
// against invite floods.
type RateLimitedPolicy struct {
	inner InvitePolicy
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitedPolicy wraps inner, allowing at most burst invites
// immediately and r invites per second thereafter, per source IP.
func NewRateLimitedPolicy(inner InvitePolicy, r rate.Limit, burst int) *RateLimitedPolicy {
	return &RateLimitedPolicy{
		inner:    inner,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *RateLimitedPolicy) limiterFor(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[ip]
	if !ok {
		l = rate.NewLimiter(p.rate, p.burst)
		p.limiters[ip] = l
	}
	return l
}

func (p *RateLimitedPolicy) Decide(invite control.Invitation, source net.Addr) Decision {
	host := source.String()
	if udp, ok := source.(*net.UDPAddr); ok {
		host = udp.IP.String()
	}
	if !p.limiterFor(host).Allow() {
		return Reject
	}
	return p.inner.Decide(invite, source)
}
