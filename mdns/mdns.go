// Package mdns provides an optional Bonjour/mDNS advertiser for a
// session's control port, service type "_apple-midi._udp.". The session
// core never imports it directly, only the narrow Advertiser interface it
// implements.
package mdns

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the Bonjour service type AppleMIDI peers browse for.
const ServiceType = "_apple-midi._udp"

// Advertiser registers and withdraws a session's presence on the local
// network. Sessions accept this as session.WithMDNS(Advertiser); the core
// never depends on zeroconf directly.
type Advertiser interface {
	Advertise(name string, port int) error
	Shutdown()
}

// ZeroconfAdvertiser advertises a session via github.com/grandcat/zeroconf.
type ZeroconfAdvertiser struct {
	server *zeroconf.Server
}

// NewZeroconfAdvertiser returns an unregistered advertiser; call Advertise
// to publish the service.
func NewZeroconfAdvertiser() *ZeroconfAdvertiser {
	return &ZeroconfAdvertiser{}
}

// Advertise registers name on ServiceType at port, replacing any prior
// registration made through this advertiser.
func (a *ZeroconfAdvertiser) Advertise(name string, port int) error {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	server, err := zeroconf.Register(name, ServiceType, "local.", port, []string{"txtv=0", "lo=1", "la=2"}, nil)
	if err != nil {
		return fmt.Errorf("mdns: register %q on port %d: %w", name, port, err)
	}
	a.server = server
	return nil
}

// Shutdown withdraws the advertisement, if any.
func (a *ZeroconfAdvertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
