package transport

import (
	"crypto/tls"
	"fmt"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
)

// AddTLS binds a DoT listener at addr (RFC 7858): TLS-wrapped TCP,
// negotiating ALPN "dot", using the same 2-byte length-prefixed framing as
// plain TCP.
func (s *Server) AddTLS(addr string) error {
	if s.TLSConfig == nil {
		return fmt.Errorf("transport: --tls/--tls6 requires --certfile and --keyfile")
	}
	cfg := s.TLSConfig.Clone()
	cfg.NextProtos = []string{"dot"}

	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return err
	}
	s.track(ln)
	s.queueServe(func() error { return s.acceptLoop(ln, dnsengine.TransportTLS) })
	return nil
}
