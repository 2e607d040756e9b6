package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnslog"
)

const maxTCPMessageSize = 65535

// AddTCP binds a plain TCP listener at addr. Each accepted connection
// reads 2-byte-big-endian length-prefixed messages until EOF or the idle
// timeout (§4.E).
func (s *Server) AddTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.track(ln)
	s.queueServe(func() error { return s.acceptLoop(ln, dnsengine.TransportTCP) })
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, transport dnsengine.Transport) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.serveStream(conn, transport)
		}()
	}
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (s *Server) requestTimeout() time.Duration {
	if s.RequestTimeout > 0 {
		return s.RequestTimeout
	}
	return DefaultRequestTimeout
}

// serveStream reads length-prefixed messages off conn sequentially until
// EOF, idle timeout, or a frame that warrants closing the connection
// (§4.E, §7 "else close"). Each message is handled before the next one is
// read, so responses on a single stream go out in request order.
func (s *Server) serveStream(conn net.Conn, transport dnsengine.Transport) {
	peerAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	var peerIP net.IP
	var peerPort int
	if peerAddr != nil {
		peerIP = peerAddr.IP
		peerPort = peerAddr.Port
	}

	cctx := dnsengine.ConnContext{
		PeerIP:    peerIP,
		PeerPort:  peerPort,
		Transport: transport,
		LocalAddr: conn.LocalAddr(),
	}

	lenBuf := make([]byte, 2)
	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))

		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		msgLen := binary.BigEndian.Uint16(lenBuf)
		if msgLen == 0 {
			return
		}

		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, msg); err != nil {
			return
		}

		resp, send, timedOut := runWithBudget(s.requestTimeout(), func() ([]byte, bool) {
			return s.Handler.Handle(msg, cctx)
		})
		if timedOut {
			resp, send = servfail(msg)
		}
		if !send {
			return
		}

		out := make([]byte, 2+len(resp))
		binary.BigEndian.PutUint16(out, uint16(len(resp)))
		copy(out[2:], resp)
		if _, err := conn.Write(out); err != nil {
			dnslog.Error(err, "stream write failed", "transport", transport.String())
			return
		}
	}
}

// servfail builds a minimal SERVFAIL reply for a request that exceeded the
// per-request wall-clock budget (§5), recovering only the transaction id
// from the raw bytes since the dispatcher itself never got to run.
func servfail(raw []byte) ([]byte, bool) {
	if len(raw) < 2 {
		return nil, false
	}
	m := new(dns.Msg)
	m.Id = binary.BigEndian.Uint16(raw[:2])
	m.Response = true
	m.Rcode = dns.RcodeServerFailure
	out, err := m.Pack()
	if err != nil {
		return nil, false
	}
	return out, true
}
