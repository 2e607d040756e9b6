package transport

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnstest"
)

func TestServeDoHPost(t *testing.T) {
	query := dnstest.Query("myip.example.org", dns.TypeA)
	handler := &dnstest.FakeHandler{Response: []byte("posted response"), Send: true}
	s := NewServer(handler, nil)

	req := httptest.NewRequest(http.MethodPost, "/dns-query", strings.NewReader(string(query)))
	req.Header.Set("Content-Type", dohContentType)
	rec := httptest.NewRecorder()

	s.serveDoH(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dohContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("posted response"), rec.Body.Bytes())

	require.Len(t, handler.Calls, 1)
	assert.Equal(t, dnsengine.TransportHTTPS, handler.Calls[0].Conn.Transport)
}

func TestServeDoHGet(t *testing.T) {
	query := dnstest.Query("myaddr.example.org", dns.TypeTXT)
	encoded := base64.RawURLEncoding.EncodeToString(query)
	handler := &dnstest.FakeHandler{Response: []byte("get response"), Send: true}
	s := NewServer(handler, nil)

	req := httptest.NewRequest(http.MethodGet, "/dns-query?dns="+encoded, nil)
	rec := httptest.NewRecorder()

	s.serveDoH(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("get response"), rec.Body.Bytes())
}

func TestServeDoHGetMissingParam(t *testing.T) {
	handler := &dnstest.FakeHandler{}
	s := NewServer(handler, nil)

	req := httptest.NewRequest(http.MethodGet, "/dns-query", nil)
	rec := httptest.NewRecorder()

	s.serveDoH(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeDoHUnsupportedMethod(t *testing.T) {
	handler := &dnstest.FakeHandler{}
	s := NewServer(handler, nil)

	req := httptest.NewRequest(http.MethodDelete, "/dns-query", nil)
	rec := httptest.NewRecorder()

	s.serveDoH(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeDoHHandlerDeclinesToSend(t *testing.T) {
	query := dnstest.Query("myip.example.org", dns.TypeA)
	handler := &dnstest.FakeHandler{Send: false}
	s := NewServer(handler, nil)

	req := httptest.NewRequest(http.MethodPost, "/dns-query", strings.NewReader(string(query)))
	rec := httptest.NewRecorder()

	s.serveDoH(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
