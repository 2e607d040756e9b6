package wire

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEDNSAbsent(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("myip.example.org.", dns.TypeA)

	info := ParseEDNS(m)
	assert.False(t, info.Present)
	assert.Nil(t, info.ECS)
}

func TestParseEDNSPresent(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("myip.example.org.", dns.TypeA)
	m.SetEdns0(4096, true)

	info := ParseEDNS(m)
	require.True(t, info.Present)
	assert.Equal(t, uint16(4096), info.MaxPayload)
	assert.True(t, info.DO)
	assert.Nil(t, info.ECS)
}

func TestParseEDNSWithECS(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("edns-cs.example.org.", dns.TypeTXT)
	m.SetEdns0(1232, false)
	opt := m.IsEdns0()
	opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        1,
		SourceNetmask: 24,
		Address:       net.ParseIP("203.0.113.77"),
	})

	info := ParseEDNS(m)
	require.NotNil(t, info.ECS)
	assert.Equal(t, uint16(1), info.ECS.Family)
	assert.Equal(t, uint8(24), info.ECS.SourceNetmask)
}

func TestMaskNetworkIPv4(t *testing.T) {
	masked, err := MaskNetwork(1, net.ParseIP("203.0.113.77"), 24)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.0", masked.String())
}

func TestMaskNetworkIPv6(t *testing.T) {
	masked, err := MaskNetwork(2, net.ParseIP("2001:db8::1234"), 32)
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::", masked.String())
}

func TestMaskNetworkUnsupportedFamily(t *testing.T) {
	_, err := MaskNetwork(99, net.ParseIP("203.0.113.77"), 24)
	assert.Error(t, err)
}

func TestMaskNetworkFamilyMismatch(t *testing.T) {
	_, err := MaskNetwork(1, net.ParseIP("2001:db8::1"), 24)
	assert.Error(t, err)
}

func TestNetworkString(t *testing.T) {
	s, err := NetworkString(1, net.ParseIP("198.51.100.23"), 24)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.0/24", s)
}

func TestEchoOPTNoQueryOPT(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("myip.example.org.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(query)

	EchoOPT(query, resp, DefaultUDPPayloadSize)
	assert.Nil(t, resp.IsEdns0())
}

func TestEchoOPTMirrorsVersionDOAndSize(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("myip.example.org.", dns.TypeA)
	query.SetEdns0(512, true)

	resp := new(dns.Msg)
	resp.SetReply(query)

	EchoOPT(query, resp, DefaultUDPPayloadSize)

	opt := resp.IsEdns0()
	require.NotNil(t, opt)
	assert.True(t, opt.Do())
	assert.Equal(t, uint16(DefaultUDPPayloadSize), opt.UDPSize())
}

func TestEchoOPTEchoesECSWithSourceScopeEqualSourceNetmask(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("edns-cs.example.org.", dns.TypeTXT)
	query.SetEdns0(1232, false)
	opt := query.IsEdns0()
	opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        1,
		SourceNetmask: 24,
		SourceScope:   0,
		Address:       net.ParseIP("203.0.113.77"),
	})

	resp := new(dns.Msg)
	resp.SetReply(query)
	EchoOPT(query, resp, DefaultUDPPayloadSize)

	respOPT := resp.IsEdns0()
	require.NotNil(t, respOPT)
	require.Len(t, respOPT.Option, 1)
	echoed, ok := respOPT.Option[0].(*dns.EDNS0_SUBNET)
	require.True(t, ok)
	assert.Equal(t, echoed.SourceNetmask, echoed.SourceScope)
}

func TestFormatPeerAddress(t *testing.T) {
	assert.Equal(t, "203.0.113.77", FormatPeerAddress(net.ParseIP("203.0.113.77")))
	assert.Equal(t, "2001:db8::1", FormatPeerAddress(net.ParseIP("2001:db8::1")))
}
