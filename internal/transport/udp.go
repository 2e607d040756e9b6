package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnslog"
)

const maxUDPMessageSize = 65535

// AddUDP binds a UDP listener at addr. It wraps the raw PacketConn with
// golang.org/x/net's ipv4/ipv6 control-message support so replies leave
// from the exact local address the query arrived on (§9 design note "UDP
// source address selection") rather than whatever address the kernel
// picks for the default route — important on multi-homed hosts where the
// CLI's repeated --udp semantics imply one socket per address.
func (s *Server) AddUDP(addr string) error {
	network, err := udpNetwork(addr)
	if err != nil {
		return err
	}

	pc, err := net.ListenPacket(network, addr)
	if err != nil {
		return err
	}

	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil
	}

	if network == "udp6" {
		p6 := ipv6.NewPacketConn(udpConn)
		if err := p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
			dnslog.Warn("could not enable IPV6_PKTINFO, UDP replies may use the default route", "addr", addr, "err", err)
		}
		s.track(udpConn)
		s.queueServe(func() error { return s.serveUDP6(p6) })
		return nil
	}

	p4 := ipv4.NewPacketConn(udpConn)
	if err := p4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		dnslog.Warn("could not enable IP_PKTINFO, UDP replies may use the default route", "addr", addr, "err", err)
	}
	s.track(udpConn)
	s.queueServe(func() error { return s.serveUDP4(p4) })
	return nil
}

func udpNetwork(addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.To4() == nil {
		return "udp6", nil
	}
	return "udp4", nil
}

func (s *Server) serveUDP4(p4 *ipv4.PacketConn) error {
	buf := make([]byte, maxUDPMessageSize)
	for {
		n, cm, src, err := p4.ReadFrom(buf)
		if err != nil {
			return err
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		peer := src.(*net.UDPAddr)
		conn := dnsengine.ConnContext{
			PeerIP:    peer.IP,
			PeerPort:  peer.Port,
			Transport: dnsengine.TransportUDP,
		}

		go func(raw []byte, cm *ipv4.ControlMessage, src net.Addr) {
			resp, send, timedOut := runWithBudget(s.requestTimeout(), func() ([]byte, bool) {
				return s.Handler.Handle(raw, conn)
			})
			if timedOut || !send {
				return
			}
			reply := &ipv4.ControlMessage{}
			if cm != nil {
				reply.Src = cm.Dst
				reply.IfIndex = cm.IfIndex
			}
			if _, err := p4.WriteTo(resp, reply, src); err != nil {
				dnslog.Error(err, "udp4 write failed")
			}
		}(raw, cm, src)
	}
}

func (s *Server) serveUDP6(p6 *ipv6.PacketConn) error {
	buf := make([]byte, maxUDPMessageSize)
	for {
		n, cm, src, err := p6.ReadFrom(buf)
		if err != nil {
			return err
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		peer := src.(*net.UDPAddr)
		conn := dnsengine.ConnContext{
			PeerIP:    peer.IP,
			PeerPort:  peer.Port,
			Transport: dnsengine.TransportUDP,
		}

		go func(raw []byte, cm *ipv6.ControlMessage, src net.Addr) {
			resp, send, timedOut := runWithBudget(s.requestTimeout(), func() ([]byte, bool) {
				return s.Handler.Handle(raw, conn)
			})
			if timedOut || !send {
				return
			}
			reply := &ipv6.ControlMessage{}
			if cm != nil {
				reply.Src = cm.Dst
				reply.IfIndex = cm.IfIndex
			}
			if _, err := p6.WriteTo(resp, reply, src); err != nil {
				dnslog.Error(err, "udp6 write failed")
			}
		}(raw, cm, src)
	}
}
