package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnslog"
)

const (
	// DefaultMaxQUICStreams bounds concurrent bidirectional streams per
	// DoQ connection (RFC 9250 §4.3 recommends a modest cap to bound
	// per-connection resource use).
	DefaultMaxQUICStreams = 100
	// DefaultQUICStreamWorkers bounds the number of streams processed
	// concurrently across all DoQ connections on one listener.
	DefaultQUICStreamWorkers = 50

	// DoQCodeNoError is the QUIC application error code sent when the
	// server closes a connection with no error (RFC 9250 §4.4).
	DoQCodeNoError quic.ApplicationErrorCode = 0
)

// AddQUIC binds a DoQ listener at addr (RFC 9250): QUIC with ALPN "doq",
// one client-initiated bidirectional stream per query, framed with the
// same 2-byte length prefix as TCP/DoT (RFC 9250 §4.2).
func (s *Server) AddQUIC(addr string) error {
	if s.TLSConfig == nil {
		return fmt.Errorf("transport: --quic/--quic6 requires --certfile and --keyfile")
	}
	cfg := s.TLSConfig.Clone()
	cfg.NextProtos = []string{"doq"}

	maxStreams := int64(DefaultMaxQUICStreams)
	quicConfig := &quic.Config{
		MaxIncomingStreams:    maxStreams,
		MaxIncomingUniStreams: maxStreams,
		Allow0RTT:             true,
	}

	ln, err := quic.ListenAddr(addr, cfg, quicConfig)
	if err != nil {
		return err
	}

	pool := make(chan struct{}, DefaultQUICStreamWorkers)

	s.track(quicListenerCloser{ln})
	s.queueServe(func() error { return s.acceptQUICConns(ln, pool) })
	return nil
}

type quicListenerCloser struct {
	ln *quic.Listener
}

func (q quicListenerCloser) Close() error { return q.ln.Close() }

func (s *Server) acceptQUICConns(ln *quic.Listener, pool chan struct{}) error {
	ctx := context.Background()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if isExpectedQUICErr(err) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveQUICConn(conn, pool)
		}()
	}
}

func (s *Server) serveQUICConn(conn *quic.Conn, pool chan struct{}) {
	ctx := context.Background()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if isExpectedQUICErr(err) {
				return
			}
			dnslog.Debug("doq connection closed", "err", err)
			return
		}

		pool <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-pool }()
			s.serveQUICStream(stream, conn)
		}()
	}
}

func (s *Server) serveQUICStream(stream *quic.Stream, conn *quic.Conn) {
	defer stream.Close()

	raw, err := readDoQMessage(stream)
	if err != nil {
		return
	}

	peerIP, peerPort := splitHostPort(conn.RemoteAddr().String())
	cctx := dnsengine.ConnContext{
		PeerIP:    peerIP,
		PeerPort:  peerPort,
		Transport: dnsengine.TransportQUIC,
	}

	resp, send, timedOut := runWithBudget(s.requestTimeout(), func() ([]byte, bool) {
		return s.Handler.Handle(raw, cctx)
	})
	if timedOut {
		resp, send = servfail(raw)
	}
	if !send {
		return
	}

	out := addPrefix(resp)
	if _, err := stream.Write(out); err != nil {
		dnslog.Error(err, "doq write failed")
	}
}

// readDoQMessage reads one 2-byte-length-prefixed DNS message off a DoQ
// stream (RFC 9250 §4.2).
func readDoQMessage(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint16(lenBuf)
	if msgLen == 0 {
		return nil, errors.New("transport: zero-length DoQ message")
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func addPrefix(msg []byte) []byte {
	out := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	copy(out[2:], msg)
	return out
}

func isExpectedQUICErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, quic.ErrServerClosed) {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.ErrorCode == DoQCodeNoError
	}
	var idleErr *quic.IdleTimeoutError
	return errors.As(err, &idleErr)
}
