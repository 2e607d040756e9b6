package transport

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"

	"golang.org/x/net/http2"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnslog"
)

const dohContentType = "application/dns-message"

// AddDoH binds a DoH listener at addr (RFC 8484): HTTPS accepting POST and
// GET on s.DoHPath. The server may serve HTTP/1.1 and HTTP/2 (HTTP/3 is
// not required on the DoH endpoint per §4.E); golang.org/x/net/http2
// configures h2 over the manually-constructed TLS listener so shutdown
// stays under Server's own tracked-listener bookkeeping.
func (s *Server) AddDoH(addr string) error {
	if s.TLSConfig == nil {
		return fmt.Errorf("transport: --doh/--doh6 requires --certfile and --keyfile")
	}
	cfg := s.TLSConfig.Clone()

	mux := http.NewServeMux()
	mux.HandleFunc(s.DoHPath, s.serveDoH)

	httpServer := &http.Server{Handler: mux, TLSConfig: cfg}
	if err := http2.ConfigureServer(httpServer, &http2.Server{}); err != nil {
		return fmt.Errorf("transport: configuring h2: %w", err)
	}

	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	tlsLn := tls.NewListener(tcpLn, httpServer.TLSConfig)

	s.track(tlsLn)
	s.queueServe(func() error {
		err := httpServer.Serve(tlsLn)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	return nil
}

func (s *Server) serveDoH(w http.ResponseWriter, r *http.Request) {
	var raw []byte
	var err error

	switch r.Method {
	case http.MethodPost:
		raw, err = io.ReadAll(io.LimitReader(r.Body, maxTCPMessageSize))
	case http.MethodGet:
		q := r.URL.Query().Get("dns")
		if q == "" {
			http.Error(w, "missing dns parameter", http.StatusBadRequest)
			return
		}
		raw, err = base64.RawURLEncoding.DecodeString(q)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	peerIP, peerPort := splitHostPort(r.RemoteAddr)
	cctx := dnsengine.ConnContext{
		PeerIP:    peerIP,
		PeerPort:  peerPort,
		Transport: dnsengine.TransportHTTPS,
	}

	resp, send, timedOut := runWithBudget(s.requestTimeout(), func() ([]byte, bool) {
		return s.Handler.Handle(raw, cctx)
	})
	if timedOut {
		resp, send = servfail(raw)
	}
	if !send {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", dohContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		dnslog.Error(err, "doh write failed")
	}
}

func splitHostPort(hostport string) (net.IP, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return net.ParseIP(host), port
}
