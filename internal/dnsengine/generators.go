package dnsengine

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/davidgroves/dnssrc/internal/wire"
)

// GenContext is what a generator needs to produce an answer: the
// connection it arrived on, the requested type, the TTL to stamp on any
// RRs it returns, the query's EDNS state, and the shared server state.
// Generators are pure functions of these inputs (§3, §4.B) — no I/O, no
// suspension (§5).
type GenContext struct {
	Conn  ConnContext
	QName string
	QType uint16
	TTL   uint32
	EDNS  wire.EDNSInfo
	State *State
}

// GenResult is a generator's answer: either a set of RRs, or an empty
// NOERROR answer (myip for the wrong family, edns/edns-cs with no OPT/ECS).
type GenResult struct {
	RRs   []dns.RR
	Empty bool
}

// GenFunc produces a synthetic answer for one leaf label.
type GenFunc func(gc *GenContext) (GenResult, error)

type generatorEntry struct {
	accepted map[uint16]bool
	ttl      *uint32 // nil means "use the zone's configured default TTL"
	fn       GenFunc
}

func accepts(types ...uint16) map[uint16]bool {
	m := make(map[uint16]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func ttlZero() *uint32 {
	v := uint32(0)
	return &v
}

// randomStringLength is the fixed length of the random TXT generator's
// alphanumeric string; §4.B leaves the exact value (16-32) to the
// implementer.
const randomStringLength = 24

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomAlnum(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("dnsengine: reading random bytes: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}

var generatorTable = map[string]generatorEntry{
	"myip": {
		accepted: accepts(dns.TypeA, dns.TypeAAAA),
		fn:       genMyIP,
	},
	"myport": {
		accepted: accepts(dns.TypeTXT),
		fn:       genMyPort,
	},
	"myaddr": {
		accepted: accepts(dns.TypeTXT),
		fn:       genMyAddr,
	},
	"counter": {
		accepted: accepts(dns.TypeTXT, dns.TypeA, dns.TypeAAAA),
		fn:       genCounter,
	},
	"random": {
		accepted: accepts(dns.TypeA, dns.TypeAAAA, dns.TypeTXT),
		fn:       genRandom,
	},
	"edns": {
		accepted: accepts(dns.TypeTXT),
		fn:       genEDNS,
	},
	"edns-cs": {
		accepted: accepts(dns.TypeA, dns.TypeAAAA, dns.TypeTXT),
		fn:       genEDNSClientSubnet,
	},
	"timestamp": {
		accepted: accepts(dns.TypeTXT),
		fn:       genTimestamp,
	},
	"timestamp0": {
		accepted: accepts(dns.TypeTXT),
		ttl:      ttlZero(),
		fn:       genTimestamp,
	},
}

func txtRR(name string, ttl uint32, strs ...string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl},
		Txt: strs,
	}
}

func genMyIP(gc *GenContext) (GenResult, error) {
	peer := gc.Conn.PeerIP
	isV4 := peer.To4() != nil
	switch gc.QType {
	case dns.TypeA:
		if !isV4 {
			return GenResult{Empty: true}, nil
		}
		rr := &dns.A{
			Hdr: dns.RR_Header{Name: gc.QName, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: gc.TTL},
			A:   peer.To4(),
		}
		return GenResult{RRs: []dns.RR{rr}}, nil
	case dns.TypeAAAA:
		if isV4 {
			return GenResult{Empty: true}, nil
		}
		rr := &dns.AAAA{
			Hdr:  dns.RR_Header{Name: gc.QName, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: gc.TTL},
			AAAA: peer.To16(),
		}
		return GenResult{RRs: []dns.RR{rr}}, nil
	}
	return GenResult{Empty: true}, nil
}

func genMyPort(gc *GenContext) (GenResult, error) {
	rr := txtRR(gc.QName, gc.TTL, strconv.Itoa(gc.Conn.PeerPort))
	return GenResult{RRs: []dns.RR{rr}}, nil
}

func genMyAddr(gc *GenContext) (GenResult, error) {
	addr := wire.FormatPeerAddress(gc.Conn.PeerIP)
	rr := txtRR(gc.QName, gc.TTL, addr, strconv.Itoa(gc.Conn.PeerPort))
	return GenResult{RRs: []dns.RR{rr}}, nil
}

// genCounter mirrors A/AAAA the same as TXT, per the design note resolving
// the open question in §9: the counter value is never wire-typed as an
// address, it is always a decimal string in a TXT RR.
func genCounter(gc *GenContext) (GenResult, error) {
	val := gc.State.Counter()
	rr := txtRR(gc.QName, gc.TTL, strconv.FormatUint(val, 10))
	return GenResult{RRs: []dns.RR{rr}}, nil
}

func genRandom(gc *GenContext) (GenResult, error) {
	switch gc.QType {
	case dns.TypeA:
		buf := make([]byte, 4)
		if err := randomBytes(buf); err != nil {
			return GenResult{}, err
		}
		rr := &dns.A{
			Hdr: dns.RR_Header{Name: gc.QName, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: gc.TTL},
			A:   buf,
		}
		return GenResult{RRs: []dns.RR{rr}}, nil
	case dns.TypeAAAA:
		buf := make([]byte, 16)
		if err := randomBytes(buf); err != nil {
			return GenResult{}, err
		}
		rr := &dns.AAAA{
			Hdr:  dns.RR_Header{Name: gc.QName, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: gc.TTL},
			AAAA: buf,
		}
		return GenResult{RRs: []dns.RR{rr}}, nil
	case dns.TypeTXT:
		s, err := randomAlnum(randomStringLength)
		if err != nil {
			return GenResult{}, err
		}
		return GenResult{RRs: []dns.RR{txtRR(gc.QName, gc.TTL, s)}}, nil
	}
	return GenResult{Empty: true}, nil
}

func genEDNS(gc *GenContext) (GenResult, error) {
	if !gc.EDNS.Present {
		return GenResult{Empty: true}, nil
	}
	s := fmt.Sprintf("version: %d dnssec_ok: %t max_payload: %d opts: %d",
		gc.EDNS.Version, gc.EDNS.DO, gc.EDNS.MaxPayload, gc.EDNS.OptCount)
	return GenResult{RRs: []dns.RR{txtRR(gc.QName, gc.TTL, s)}}, nil
}

func genEDNSClientSubnet(gc *GenContext) (GenResult, error) {
	if gc.EDNS.ECS == nil {
		return GenResult{Empty: true}, nil
	}
	s, err := wire.NetworkString(gc.EDNS.ECS.Family, gc.EDNS.ECS.Address, gc.EDNS.ECS.SourceNetmask)
	if err != nil {
		return GenResult{}, err
	}
	return GenResult{RRs: []dns.RR{txtRR(gc.QName, gc.TTL, s)}}, nil
}

func genTimestamp(gc *GenContext) (GenResult, error) {
	ms := gc.State.Now().UnixMilli()
	return GenResult{RRs: []dns.RR{txtRR(gc.QName, gc.TTL, strconv.FormatInt(ms, 10))}}, nil
}

// normalizeLabel lowercases a label the way zone.Config canonicalises
// names, so generator lookup is case-insensitive per DNS rules (§3).
func normalizeLabel(label string) string {
	return strings.ToLower(label)
}
