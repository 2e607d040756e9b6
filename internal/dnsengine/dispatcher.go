package dnsengine

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/davidgroves/dnssrc/internal/dnslog"
	"github.com/davidgroves/dnssrc/internal/metrics"
	"github.com/davidgroves/dnssrc/internal/wire"
	"github.com/davidgroves/dnssrc/internal/zone"
)

// Dispatcher is the single entry point of §4.D: handle(raw_bytes, conn_ctx)
// -> raw_bytes. It owns nothing but a reference to the zone and the shared
// server state; it performs no I/O itself (transports own sockets).
type Dispatcher struct {
	Zone          *zone.Config
	State         *State
	MaxUDPPayload uint16
	Metrics       *metrics.Recorder // optional; nil disables instrumentation
}

// NewDispatcher builds a Dispatcher. maxUDPPayload is the value the server
// advertises back in its own OPT record (§3, default 1232).
func NewDispatcher(z *zone.Config, state *State, maxUDPPayload uint16) *Dispatcher {
	if maxUDPPayload == 0 {
		maxUDPPayload = wire.DefaultUDPPayloadSize
	}
	return &Dispatcher{Zone: z, State: state, MaxUDPPayload: maxUDPPayload}
}

// Handle processes one raw DNS message and returns the raw bytes to send
// back, if any. send is false when the transport should silently drop the
// datagram (UDP) or close the connection (stream) instead.
func (d *Dispatcher) Handle(raw []byte, conn ConnContext) (response []byte, send bool) {
	start := time.Now()
	label := "-"
	rcode := dns.RcodeSuccess

	defer func() {
		if d.Metrics != nil {
			d.Metrics.Observe(conn.Transport.String(), label, dns.RcodeToString[rcode], time.Since(start))
		}
	}()

	m := new(dns.Msg)
	if err := m.Unpack(raw); err != nil {
		id, ok := recoverID(raw)
		if !ok {
			return nil, false
		}
		rcode = dns.RcodeFormatError
		return packOrDrop(formErrReply(id))
	}

	if len(m.Question) != 1 {
		rcode = dns.RcodeFormatError
		return packOrDrop(formErrReply(m.Id))
	}

	// Only a successfully parsed query reaches the counter (§3, §5).
	d.State.IncrementCounter()

	q := m.Question[0]
	qname := strings.ToLower(q.Name)
	edns := wire.ParseEDNS(m)

	resp := new(dns.Msg)
	resp.SetReply(m)

	switch {
	case q.Qclass != dns.ClassINET:
		resp.Rcode = dns.RcodeNotImplemented

	case !d.Zone.InZone(qname):
		resp.Rcode = dns.RcodeRefused

	case d.Zone.IsApex(qname):
		label = "apex"
		d.answerApex(resp, q)

	default:
		l, ok := d.Zone.Label(qname)
		if !ok {
			d.answerNXDomain(resp)
			break
		}
		label = normalizeLabel(l)
		entry, found := generatorTable[label]
		if !found {
			d.answerNXDomain(resp)
			break
		}
		d.answerGenerator(resp, q, entry, conn, edns)
	}

	rcode = resp.Rcode
	wire.EchoOPT(m, resp, d.MaxUDPPayload)
	return d.finalize(m, resp, conn, edns)
}

func (d *Dispatcher) answerApex(resp *dns.Msg, q dns.Question) {
	resp.Authoritative = true
	switch q.Qtype {
	case dns.TypeSOA:
		resp.Answer = []dns.RR{d.Zone.SOARR(d.Zone.TTL)}
	case dns.TypeNS:
		resp.Answer = d.Zone.NSRRs(d.Zone.TTL)
	default:
		// A/AAAA (and anything else) at the apex: empty NOERROR, the
		// server does not know its own external addresses (§4.B).
	}
	resp.Ns = d.Zone.Authority(len(resp.Answer) == 0)
}

func (d *Dispatcher) answerNXDomain(resp *dns.Msg) {
	resp.Authoritative = true
	resp.Rcode = dns.RcodeNameError
	resp.Ns = d.Zone.Authority(true)
}

func (d *Dispatcher) answerGenerator(resp *dns.Msg, q dns.Question, entry generatorEntry, conn ConnContext, edns wire.EDNSInfo) {
	resp.Authoritative = true

	if !entry.accepted[q.Qtype] {
		resp.Ns = d.Zone.Authority(true)
		return
	}

	ttl := d.Zone.TTL
	if entry.ttl != nil {
		ttl = *entry.ttl
	}

	gc := &GenContext{
		Conn:  conn,
		QName: q.Name,
		QType: q.Qtype,
		TTL:   ttl,
		EDNS:  edns,
		State: d.State,
	}

	result, err := safeInvoke(entry.fn, gc)
	if err != nil {
		dnslog.Error(err, "generator failed", "label", q.Name)
		resp.Rcode = dns.RcodeServerFailure
		resp.Authoritative = false
		return
	}
	if result.Empty {
		resp.Ns = d.Zone.Authority(true)
		return
	}
	resp.Answer = result.RRs
	resp.Ns = d.Zone.Authority(false)
}

func safeInvoke(fn GenFunc, gc *GenContext) (result GenResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dnsengine: generator panic: %v", r)
		}
	}()
	return fn(gc)
}

// finalize packs resp, applying UDP truncation per §4.D step 7: stream
// transports never truncate; UDP truncates to header+question when the
// encoded message exceeds the query's advertised EDNS payload size, or 512
// when the query carried no EDNS.
func (d *Dispatcher) finalize(query, resp *dns.Msg, conn ConnContext, edns wire.EDNSInfo) ([]byte, bool) {
	out, err := resp.Pack()
	if err != nil {
		dnslog.Error(err, "failed to pack response")
		return packOrDrop(formErrReply(query.Id))
	}

	if conn.Transport.Stream() {
		return out, true
	}

	limit := 512
	if edns.Present {
		limit = int(edns.MaxPayload)
	}
	if len(out) <= limit {
		return out, true
	}

	truncated := new(dns.Msg)
	truncated.Id = resp.Id
	truncated.Response = true
	truncated.Opcode = resp.Opcode
	truncated.Authoritative = resp.Authoritative
	truncated.Rcode = resp.Rcode
	truncated.Truncated = true
	truncated.Question = query.Question

	tout, err := truncated.Pack()
	if err != nil {
		return nil, false
	}
	return tout, true
}

func formErrReply(id uint16) *dns.Msg {
	m := new(dns.Msg)
	m.Id = id
	m.Response = true
	m.Rcode = dns.RcodeFormatError
	return m
}

func packOrDrop(m *dns.Msg) ([]byte, bool) {
	out, err := m.Pack()
	if err != nil {
		return nil, false
	}
	return out, true
}

func recoverID(raw []byte) (uint16, bool) {
	if len(raw) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw[:2]), true
}
