package transport

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnstest"
)

func writeFramed(t *testing.T, conn net.Conn, raw []byte) {
	t.Helper()
	out := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(out, uint16(len(raw)))
	copy(out[2:], raw)
	_, err := conn.Write(out)
	require.NoError(t, err)
}

func readFramed(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	lenBuf := make([]byte, 2)
	_, err := io.ReadFull(conn, lenBuf)
	require.NoError(t, err)
	n := binary.BigEndian.Uint16(lenBuf)
	msg := make([]byte, n)
	_, err = io.ReadFull(conn, msg)
	require.NoError(t, err)
	return msg
}

func TestServeStreamRespondsWithHandlerOutput(t *testing.T) {
	query := dnstest.Query("myip.example.org", dns.TypeA)
	handler := &dnstest.FakeHandler{Response: []byte("the response"), Send: true}

	s := NewServer(handler, nil)
	s.IdleTimeout = 200 * time.Millisecond
	s.RequestTimeout = 200 * time.Millisecond

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.serveStream(server, dnsengine.TransportTCP)
		close(done)
	}()

	writeFramed(t, client, query)
	got := readFramed(t, client)
	assert.Equal(t, []byte("the response"), got)

	require.Len(t, handler.Calls, 1)
	assert.Equal(t, dnsengine.TransportTCP, handler.Calls[0].Conn.Transport)

	client.Close()
	<-done
}

func TestServeStreamClosesOnDontSend(t *testing.T) {
	handler := &dnstest.FakeHandler{Send: false}
	s := NewServer(handler, nil)
	s.IdleTimeout = 200 * time.Millisecond
	s.RequestTimeout = 200 * time.Millisecond

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.serveStream(server, dnsengine.TransportTCP)
		close(done)
	}()

	writeFramed(t, client, []byte("query"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serveStream did not return after a dropped response")
	}
}

func TestServfailBuildsMinimalReply(t *testing.T) {
	raw := dnstest.Query("myip.example.org", dns.TypeA)
	resp, send := servfail(raw)
	require.True(t, send)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(resp))
	assert.Equal(t, dns.RcodeServerFailure, m.Rcode)
	assert.True(t, m.Response)
}

func TestServfailTooShortInput(t *testing.T) {
	_, send := servfail([]byte{0x01})
	assert.False(t, send)
}

func TestUDPNetworkSelectsV4AndV6(t *testing.T) {
	net4, err := udpNetwork("127.0.0.1:53")
	require.NoError(t, err)
	assert.Equal(t, "udp4", net4)

	net6, err := udpNetwork("[::1]:53")
	require.NoError(t, err)
	assert.Equal(t, "udp6", net6)
}
