package zone

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return New("example.org", 300, []string{"ns1.example.org", "ns2.example.org"}, SOAParams{
		MName:   "ns1.example.org",
		RName:   "hostmaster.example.org",
		Serial:  2026073001,
		Refresh: 3600,
		Retry:   900,
		Expire:  604800,
		Minimum: 60,
	})
}

func TestNewCanonicalises(t *testing.T) {
	c := testConfig()
	assert.Equal(t, "example.org.", c.Apex)
	assert.Equal(t, "ns1.example.org.", c.NS[0])
	assert.Equal(t, "ns1.example.org.", c.SOA.MName)
	assert.Equal(t, "hostmaster.example.org.", c.SOA.RName)
}

func TestInZone(t *testing.T) {
	c := testConfig()
	assert.True(t, c.InZone("example.org."))
	assert.True(t, c.InZone("myip.example.org."))
	assert.False(t, c.InZone("example.com."))
	assert.False(t, c.InZone("otherexample.org."))
}

func TestIsApex(t *testing.T) {
	c := testConfig()
	assert.True(t, c.IsApex("example.org."))
	assert.True(t, c.IsApex("EXAMPLE.ORG."))
	assert.False(t, c.IsApex("myip.example.org."))
}

func TestLabel(t *testing.T) {
	c := testConfig()

	label, ok := c.Label("myip.example.org.")
	require.True(t, ok)
	assert.Equal(t, "myip", label)

	_, ok = c.Label("example.org.")
	assert.False(t, ok, "apex itself has no leaf label")

	_, ok = c.Label("a.b.example.org.")
	assert.False(t, ok, "two labels below apex is too deep")

	_, ok = c.Label("example.com.")
	assert.False(t, ok, "out of zone")
}

func TestLabelIsLowercased(t *testing.T) {
	c := testConfig()
	label, ok := c.Label("MyIP.example.org.")
	require.True(t, ok)
	assert.Equal(t, "myip", label)
}

func TestSOARR(t *testing.T) {
	c := testConfig()
	rr := c.SOARR(c.SOA.Minimum)
	assert.Equal(t, uint32(60), rr.Hdr.Ttl)
	assert.Equal(t, "example.org.", rr.Hdr.Name)
	assert.Equal(t, uint32(2026073001), rr.Serial)
}

func TestNSRRs(t *testing.T) {
	c := testConfig()
	rrs := c.NSRRs(c.TTL)
	require.Len(t, rrs, 2)
	ns, ok := rrs[0].(*dns.NS)
	require.True(t, ok)
	assert.Equal(t, uint32(300), ns.Hdr.Ttl)
	assert.Equal(t, "ns1.example.org.", ns.Ns)
}

func TestAuthorityEmptyAnswerUsesSOAAtMinimum(t *testing.T) {
	c := testConfig()
	rrs := c.Authority(true)
	require.Len(t, rrs, 1)
	soa, ok := rrs[0].(*dns.SOA)
	require.True(t, ok)
	assert.Equal(t, c.SOA.Minimum, soa.Hdr.Ttl)
}

func TestAuthorityNonEmptyAnswerUsesNSAtTTL(t *testing.T) {
	c := testConfig()
	rrs := c.Authority(false)
	require.Len(t, rrs, 2)
	for _, rr := range rrs {
		assert.Equal(t, c.TTL, rr.Header().Ttl)
	}
}
