package config

import (
	"fmt"
	"strings"

	"github.com/ameshkov/webrelay/internal/trust"
	"gopkg.in/yaml.v3"
)

// TrustValue is a trust setting of the configuration file.  It is either a
// boolean, a single address or hostname, a comma-separated list of them, or a
// YAML sequence of them.
type TrustValue struct {
	// List contains the addresses and hostnames.
	List []string

	// All is true if every peer is trusted.
	All bool
}

// type check
var _ yaml.Unmarshaler = (*TrustValue)(nil)

// UnmarshalYAML implements the yaml.Unmarshaler interface for *TrustValue.
func (v *TrustValue) UnmarshalYAML(n *yaml.Node) (err error) {
	*v = TrustValue{}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!bool" {
			return n.Decode(&v.All)
		}

		var s string
		if err = n.Decode(&s); err != nil {
			return err
		}

		v.List = splitList(s)
	case yaml.SequenceNode:
		var list []string
		if err = n.Decode(&list); err != nil {
			return err
		}

		for _, s := range list {
			v.List = append(v.List, splitList(s)...)
		}
	default:
		return fmt.Errorf("line %d: expected a boolean or a list of addresses", n.Line)
	}

	return nil
}

// splitList splits a comma-separated list dropping empty elements.
func splitList(s string) (list []string) {
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			list = append(list, e)
		}
	}

	return list
}

// Enabled returns true if v trusts anybody.  v may be nil.
func (v *TrustValue) Enabled() (ok bool) {
	return v != nil && (v.All || len(v.List) > 0)
}

// toTrustConfig converts v into a trust configuration.  v may be nil.
func (v *TrustValue) toTrustConfig() (c *trust.Config) {
	switch {
	case v == nil:
		return trust.Disabled()
	case v.All:
		return trust.TrustAll()
	case len(v.List) > 0:
		return trust.List(v.List...)
	default:
		return trust.Disabled()
	}
}
