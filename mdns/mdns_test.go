package mdns

import "github.com/resonantlabs/rtpmidi/session"

// ZeroconfAdvertiser must structurally satisfy session.ServiceAdvertiser
// without session importing this package. A build failure here means the
// two interfaces have drifted apart.
var _ session.ServiceAdvertiser = (*ZeroconfAdvertiser)(nil)
