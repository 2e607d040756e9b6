// Package dnstest provides small test fakes shared across the internal
// packages: a fixed Clock for deterministic timestamp generator tests, a
// fake transport.Handler for exercising listener plumbing without a real
// dispatcher, and a helper for building wire-format query bytes.
package dnstest

import (
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/davidgroves/dnssrc/internal/dnsengine"
)

// FixedClock implements dnsengine.Clock, always returning the same instant.
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.At }

// Query builds a packed wire-format DNS query for name/qtype, suitable as
// input to transport.Handler.Handle or dnsengine.Dispatcher.Handle.
func Query(name string, qtype uint16) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	raw, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return raw
}

// QueryWithECS builds a packed query for name/qtype carrying an EDNS0
// Client Subnet option, mirroring the §8 end-to-end examples that probe
// edns-cs.<zone>.
func QueryWithECS(name string, qtype uint16, family uint16, subnet string, sourceNetmask uint8) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.SetEdns0(dnsEDNSDefaultSize, false)

	opt := m.IsEdns0()
	ecs := &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        family,
		SourceNetmask: sourceNetmask,
		SourceScope:   0,
		Address:       net.ParseIP(subnet),
	}
	opt.Option = append(opt.Option, ecs)

	raw, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return raw
}

const dnsEDNSDefaultSize = 1232

// FakeHandler records every call it receives and replies with a
// pre-programmed response, letting transport tests assert the
// ConnContext each listener built without depending on the dispatcher.
type FakeHandler struct {
	Response []byte
	Send     bool
	Calls    []FakeCall
}

// FakeCall captures one Handle invocation.
type FakeCall struct {
	Raw  []byte
	Conn dnsengine.ConnContext
}

// Handle implements transport.Handler.
func (f *FakeHandler) Handle(raw []byte, conn dnsengine.ConnContext) ([]byte, bool) {
	f.Calls = append(f.Calls, FakeCall{Raw: raw, Conn: conn})
	return f.Response, f.Send
}
