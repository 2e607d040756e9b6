// Package zone implements the authoritative-zone machinery of §4.C: the
// class/containment/depth checks performed before a query reaches a
// generator, and the SOA/NS framing every in-zone response carries.
package zone

import (
	"strings"

	"github.com/miekg/dns"
)

// SOAParams mirrors the --soa-names/--soa-values CLI fields of §6.
type SOAParams struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// Config is the immutable, process-wide zone apex configuration of §3.
// Apex and every NS name are stored lowercase and fully qualified;
// InZone, IsApex and Label compare an incoming QNAME against the apex
// case-insensitively.
type Config struct {
	Apex string
	TTL  uint32
	NS   []string
	SOA  SOAParams
}

// New builds a Config, canonicalising the apex, NS names and SOA names to
// lowercase FQDNs.
func New(apex string, ttl uint32, ns []string, soa SOAParams) *Config {
	c := &Config{
		Apex: canon(apex),
		TTL:  ttl,
		SOA: SOAParams{
			MName:   canon(soa.MName),
			RName:   canon(soa.RName),
			Serial:  soa.Serial,
			Refresh: soa.Refresh,
			Retry:   soa.Retry,
			Expire:  soa.Expire,
			Minimum: soa.Minimum,
		},
	}
	for _, n := range ns {
		c.NS = append(c.NS, canon(n))
	}
	return c
}

func canon(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

// InZone reports whether qname equals the apex or is strictly below it.
func (c *Config) InZone(qname string) bool {
	return dns.IsSubDomain(c.Apex, qname)
}

// IsApex reports whether qname is exactly the zone apex.
func (c *Config) IsApex(qname string) bool {
	return strings.EqualFold(qname, c.Apex)
}

// Label returns the leftmost label of qname when qname is exactly one
// label below the apex (the depth generator matching requires). ok is
// false for the apex itself or anything two or more labels down.
func (c *Config) Label(qname string) (label string, ok bool) {
	if !c.InZone(qname) || c.IsApex(qname) {
		return "", false
	}
	apexLabels := dns.CountLabel(c.Apex)
	qLabels := dns.CountLabel(qname)
	if qLabels != apexLabels+1 {
		return "", false
	}
	labels := dns.SplitDomainName(qname)
	if len(labels) == 0 {
		return "", false
	}
	return strings.ToLower(labels[0]), true
}

// SOARR builds the zone's SOA record with the given TTL (callers pass
// either the configured default TTL for positive SOA answers or
// SOA.Minimum for authority-section framing per §4.C).
func (c *Config) SOARR(ttl uint32) *dns.SOA {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   c.Apex,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Ns:      c.SOA.MName,
		Mbox:    c.SOA.RName,
		Serial:  c.SOA.Serial,
		Refresh: c.SOA.Refresh,
		Retry:   c.SOA.Retry,
		Expire:  c.SOA.Expire,
		Minttl:  c.SOA.Minimum,
	}
}

// NSRRs builds the zone's NS record set at the given TTL.
func (c *Config) NSRRs(ttl uint32) []dns.RR {
	out := make([]dns.RR, 0, len(c.NS))
	for _, ns := range c.NS {
		out = append(out, &dns.NS{
			Hdr: dns.RR_Header{Name: c.Apex, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: ttl},
			Ns:  ns,
		})
	}
	return out
}

// Authority returns the authority section for a response: the NS set when
// the answer section is non-empty, otherwise the SOA at TTL=Minimum
// (§4.C, last paragraph).
func (c *Config) Authority(answerEmpty bool) []dns.RR {
	if answerEmpty {
		return []dns.RR{c.SOARR(c.SOA.Minimum)}
	}
	return c.NSRRs(c.TTL)
}
