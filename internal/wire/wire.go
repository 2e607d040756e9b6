// Package wire layers the EDNS0/ECS helpers dnssrc's generators and zone
// authority need on top of github.com/miekg/dns, which already supplies the
// wire codec (RFC 1035 parsing/encoding), the OPT pseudo-RR (RFC 6891) and
// the EDNS0_SUBNET option type (RFC 7871) directly — there is no reason to
// hand-roll any of that.
package wire

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// DefaultUDPPayloadSize is the server's advertised maximum UDP payload size
// (RFC 6891 §6.2.3 suggests 1232 as a safe default that avoids
// fragmentation on the modern internet).
const DefaultUDPPayloadSize = 1232

// EDNSInfo is the parsed shape of a query's EDNS0 state (§3 of the spec):
// absent, or present with version/payload-size/DO/option count.
type EDNSInfo struct {
	Present    bool
	Version    uint8
	DO         bool
	MaxPayload uint16
	OptCount   int
	ECS        *ECS
}

// ECS is a parsed EDNS-Client-Subnet option (RFC 7871, option code 8).
type ECS struct {
	Family        uint16 // dns.EDNS0_SUBNET: 1 = IPv4, 2 = IPv6
	SourceNetmask uint8
	Address       net.IP
}

// ParseEDNS extracts the EDNS0 state from a query, if any.
func ParseEDNS(r *dns.Msg) EDNSInfo {
	opt := r.IsEdns0()
	if opt == nil {
		return EDNSInfo{}
	}
	info := EDNSInfo{
		Present:    true,
		Version:    opt.Version(),
		DO:         opt.Do(),
		MaxPayload: opt.UDPSize(),
		OptCount:   len(opt.Option),
	}
	for _, o := range opt.Option {
		if subnet, ok := o.(*dns.EDNS0_SUBNET); ok {
			info.ECS = &ECS{
				Family:        subnet.Family,
				SourceNetmask: subnet.SourceNetmask,
				Address:       subnet.Address,
			}
			break
		}
	}
	return info
}

// MaskNetwork zeroes the bits of addr beyond prefixLen, per the family
// implied by the ECS option (1 = IPv4/32 bits, 2 = IPv6/128 bits). The
// caller must not assume the client pre-masked the address (§4.B
// edns-cs, design note "EDNS/ECS masking").
func MaskNetwork(family uint16, addr net.IP, prefixLen uint8) (net.IP, error) {
	switch family {
	case 1:
		ip4 := addr.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("wire: ECS family 1 (IPv4) but address %s has no v4 form", addr)
		}
		mask := net.CIDRMask(int(prefixLen), 32)
		return ip4.Mask(mask), nil
	case 2:
		ip16 := addr.To16()
		if ip16 == nil {
			return nil, fmt.Errorf("wire: ECS family 2 (IPv6) but address %s has no v6 form", addr)
		}
		mask := net.CIDRMask(int(prefixLen), 128)
		return ip16.Mask(mask), nil
	default:
		return nil, fmt.Errorf("wire: unsupported ECS family %d", family)
	}
}

// NetworkString renders "<network>/<prefix>" the way the edns-cs generator
// reports the masked ECS network back to the client.
func NetworkString(family uint16, addr net.IP, prefixLen uint8) (string, error) {
	network, err := MaskNetwork(family, addr, prefixLen)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d", network.String(), prefixLen), nil
}

// EchoOPT attaches an OPT record to resp mirroring the query's, per §3's
// invariant: if the query carried an OPT, the response carries exactly one,
// advertising the server's own max payload size and preserving DO. ECS
// scope-prefix-length is set equal to source-prefix-length per RFC 7871 and
// §6, since this server never shards its answer by scope.
func EchoOPT(query, resp *dns.Msg, maxPayload uint16) {
	reqOPT := query.IsEdns0()
	if reqOPT == nil {
		return
	}

	opt := new(dns.OPT)
	opt.Hdr.Name = "."
	opt.Hdr.Rrtype = dns.TypeOPT
	opt.SetVersion(reqOPT.Version())
	opt.SetDo(reqOPT.Do())
	opt.SetUDPSize(maxPayload)

	for _, o := range reqOPT.Option {
		if subnet, ok := o.(*dns.EDNS0_SUBNET); ok {
			echoed := &dns.EDNS0_SUBNET{
				Code:          dns.EDNS0SUBNET,
				Family:        subnet.Family,
				SourceNetmask: subnet.SourceNetmask,
				SourceScope:   subnet.SourceNetmask,
				Address:       subnet.Address,
			}
			opt.Option = append(opt.Option, echoed)
		}
	}

	resp.Extra = append(resp.Extra, opt)
}

// FormatPeerAddress renders a peer IP the way myaddr/myip want it: dotted
// for v4, canonical compressed form for v6.
func FormatPeerAddress(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
