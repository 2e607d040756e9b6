// Package config parses the CLI surface of §6: every flag is also
// readable from an environment variable DNSSRC_<UPPER>, with the CLI value
// taking priority. Flag parsing itself uses github.com/spf13/pflag (an
// indirect dependency the teacher pulls in for its own k8s client
// libraries) for GNU-style long flags; the env overlay is a few lines of
// os.LookupEnv plumbing, since no flag/env-binding library appears
// anywhere in the retrieval pack (see DESIGN.md).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// SOA mirrors --soa-names/--soa-values.
type SOA struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// Config is the fully parsed, validated CLI/environment surface of §6.
type Config struct {
	Domain string

	UDP  []string
	TCP  []string
	UDP6 []string
	TCP6 []string

	DoH   []string
	DoH6  []string
	TLS   []string
	TLS6  []string
	QUIC  []string
	QUIC6 []string

	CertFile string
	KeyFile  string

	TTL uint32

	NSRecords []string
	SOA       SOA

	User  string
	Group string

	Foreground bool

	MetricsAddr string
	LogLevel    string
}

const envPrefix = "DNSSRC_"

// Parse parses args (as from os.Args[1:]) overlaid with environment
// variables read through getenv, validates the result, and returns a
// Config. Pass os.LookupEnv in production; tests can supply a fake map.
func Parse(args []string, getenv func(string) (string, bool)) (*Config, error) {
	fs := pflag.NewFlagSet("dnssrc", pflag.ContinueOnError)

	domain := fs.String("domain", "", "apex domain for the zone (required)")
	udp := fs.StringArray("udp", nil, "UDP listen address (repeatable)")
	tcp := fs.StringArray("tcp", nil, "TCP listen address (repeatable)")
	udp6 := fs.StringArray("udp6", nil, "UDP listen address, IPv6 (repeatable)")
	tcp6 := fs.StringArray("tcp6", nil, "TCP listen address, IPv6 (repeatable)")
	doh := fs.StringArray("doh", nil, "DoH listen address (repeatable)")
	doh6 := fs.StringArray("doh6", nil, "DoH listen address, IPv6 (repeatable)")
	tlsAddr := fs.StringArray("tls", nil, "DoT listen address (repeatable)")
	tls6 := fs.StringArray("tls6", nil, "DoT listen address, IPv6 (repeatable)")
	quic := fs.StringArray("quic", nil, "DoQ listen address (repeatable)")
	quic6 := fs.StringArray("quic6", nil, "DoQ listen address, IPv6 (repeatable)")
	certfile := fs.String("certfile", "", "PEM certificate chain")
	keyfile := fs.String("keyfile", "", "PEM private key")
	ttl := fs.Uint32("ttl", 5, "default TTL in seconds")
	nsRecords := fs.StringArray("ns-records", nil, "NS name for the zone apex (repeatable)")
	soaNames := fs.StringSlice("soa-names", nil, "mname,rname")
	soaValues := fs.UintSlice("soa-values", nil, "serial,refresh,retry,expire,minimum")
	user := fs.String("user", "nobody", "unprivileged user to drop to")
	group := fs.String("group", "nogroup", "unprivileged group to drop to")
	foreground := fs.Bool("foreground", false, "stay attached to the terminal")
	metrics := fs.String("metrics", "", "optional Prometheus /metrics listen address")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	applyEnvOverlay(fs, getenv)

	cfg := &Config{
		Domain:      *domain,
		UDP:         *udp,
		TCP:         *tcp,
		UDP6:        *udp6,
		TCP6:        *tcp6,
		DoH:         *doh,
		DoH6:        *doh6,
		TLS:         *tlsAddr,
		TLS6:        *tls6,
		QUIC:        *quic,
		QUIC6:       *quic6,
		CertFile:    *certfile,
		KeyFile:     *keyfile,
		TTL:         *ttl,
		NSRecords:   *nsRecords,
		User:        *user,
		Group:       *group,
		Foreground:  *foreground,
		MetricsAddr: *metrics,
		LogLevel:    *logLevel,
	}

	if len(*soaNames) >= 2 {
		cfg.SOA.MName = (*soaNames)[0]
		cfg.SOA.RName = (*soaNames)[1]
	}
	if len(*soaValues) >= 5 {
		v := *soaValues
		cfg.SOA.Serial = uint32(v[0])
		cfg.SOA.Refresh = uint32(v[1])
		cfg.SOA.Retry = uint32(v[2])
		cfg.SOA.Expire = uint32(v[3])
		cfg.SOA.Minimum = uint32(v[4])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverlay sets any flag the user did not pass on the command line
// from its DNSSRC_<UPPER> environment variable, if present. CLI always
// wins over environment (§6).
func applyEnvOverlay(fs *pflag.FlagSet, getenv func(string) (string, bool)) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := getenv(envName)
		if !ok || val == "" {
			return
		}
		if f.Value.Type() == "stringArray" || f.Value.Type() == "stringSlice" || f.Value.Type() == "uintSlice" {
			for _, part := range strings.Split(val, ",") {
				_ = fs.Set(f.Name, part)
			}
			return
		}
		_ = fs.Set(f.Name, val)
	})
}

func (c *Config) listenerCount() int {
	return len(c.UDP) + len(c.TCP) + len(c.UDP6) + len(c.TCP6) +
		len(c.DoH) + len(c.DoH6) + len(c.TLS) + len(c.TLS6) + len(c.QUIC) + len(c.QUIC6)
}

func (c *Config) needsTLS() bool {
	return len(c.DoH) > 0 || len(c.DoH6) > 0 || len(c.TLS) > 0 || len(c.TLS6) > 0 ||
		len(c.QUIC) > 0 || len(c.QUIC6) > 0
}

// Validate enforces the §6/§7 ConfigError constraints: a non-empty apex
// domain, at least one listener, TLS-based transports requiring a
// certificate and key, at least one NS name, and both SOA names.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: --domain is required")
	}
	if c.listenerCount() == 0 {
		return fmt.Errorf("config: at least one listener (--udp, --tcp, --doh, --tls, --quic, or their v6 variants) is required")
	}
	if c.needsTLS() && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("config: --certfile and --keyfile are required when any TLS-based transport (--doh, --tls, --quic) is enabled")
	}
	if len(c.NSRecords) == 0 {
		return fmt.Errorf("config: at least one --ns-records value is required")
	}
	if c.SOA.MName == "" || c.SOA.RName == "" {
		return fmt.Errorf("config: --soa-names mname,rname is required")
	}
	return nil
}
