package session

import (
	"net"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/resonantlabs/rtpmidi/control"
)

func TestRateLimitedPolicyAllowsWithinBurst(t *testing.T) {
	p := NewRateLimitedPolicy(AcceptAll, rate.Every(time.Hour), 3)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5004}
	in := control.Invitation{Name: "peer"}

	for i := 0; i < 3; i++ {
		if got := p.Decide(in, addr); got != Accept {
			t.Fatalf("invite %d: Decide = %v, want Accept (within burst)", i, got)
		}
	}
}

func TestRateLimitedPolicyRejectsPastBurst(t *testing.T) {
	p := NewRateLimitedPolicy(AcceptAll, rate.Every(time.Hour), 2)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5004}
	in := control.Invitation{Name: "peer"}

	for i := 0; i < 2; i++ {
		if got := p.Decide(in, addr); got != Accept {
			t.Fatalf("invite %d: Decide = %v, want Accept (within burst)", i, got)
		}
	}
	if got := p.Decide(in, addr); got != Reject {
		t.Fatalf("invite past burst: Decide = %v, want Reject", got)
	}
}

func TestRateLimitedPolicyTracksSourcesIndependently(t *testing.T) {
	p := NewRateLimitedPolicy(AcceptAll, rate.Every(time.Hour), 1)
	in := control.Invitation{Name: "peer"}
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5004}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 5004}

	if got := p.Decide(in, addrA); got != Accept {
		t.Fatalf("first invite from A: Decide = %v, want Accept", got)
	}
	if got := p.Decide(in, addrA); got != Reject {
		t.Fatalf("second invite from A: Decide = %v, want Reject", got)
	}
	if got := p.Decide(in, addrB); got != Accept {
		t.Fatalf("first invite from B: Decide = %v, want Accept (independent limiter)", got)
	}
}

func TestRateLimitedPolicyDefersToInnerPolicyWhenAllowed(t *testing.T) {
	p := NewRateLimitedPolicy(RejectAll, rate.Every(time.Hour), 5)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5004}
	in := control.Invitation{Name: "peer"}

	if got := p.Decide(in, addr); got != Reject {
		t.Fatalf("Decide = %v, want Reject from the wrapped inner policy", got)
	}
}
