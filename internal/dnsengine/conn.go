package dnsengine

import "net"

// Transport identifies which listener kind a query arrived on (§3
// "Connection context"). It has no effect on answer content beyond UDP
// truncation (§4.D step 7, §8 invariant 6).
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportTLS
	TransportHTTPS
	TransportQUIC
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	case TransportHTTPS:
		return "https"
	case TransportQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// Stream reports whether this transport is connection-oriented, i.e. any
// transport other than UDP (TCP, DoT, DoH, DoQ); stream transports never
// truncate (§4.E).
func (t Transport) Stream() bool {
	return t != TransportUDP
}

// ConnContext is the per-request connection context of §3: peer address,
// transport kind, and local socket address. LocalAddr is set by the TCP and
// DoT listeners only; the UDP listener picks each reply's source address
// from the packet's control message instead.
type ConnContext struct {
	PeerIP    net.IP
	PeerPort  int
	Transport Transport
	LocalAddr net.Addr
}
