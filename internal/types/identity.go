package types

import (
	"strings"
	"unicode"

	"github.com/erankavija/jit/internal/jiterr"
)

// Label is a parsed namespace:value pair.
type Label struct {
	Namespace string
	Value     string
}

// String re-joins the label in canonical form.
func (l Label) String() string {
	return l.Namespace + ":" + l.Value
}

// ParseLabel validates and splits a raw label. Namespaces are non-empty
// lowercase alphanumeric with hyphens; values are opaque, non-empty, and may
// not contain newlines. Exactly one separator; no surrounding whitespace.
func ParseLabel(raw string) (Label, error) {
	if raw != strings.TrimSpace(raw) {
		return Label{}, jiterr.New(jiterr.KindInvalidLabelFormat,
			"label %q has leading or trailing whitespace", raw).With("label", raw)
	}
	idx := strings.Index(raw, ":")
	if idx < 0 || strings.Count(raw, ":") != 1 {
		return Label{}, jiterr.New(jiterr.KindInvalidLabelFormat,
			"label %q must contain exactly one ':' separator", raw).With("label", raw)
	}
	ns, val := raw[:idx], raw[idx+1:]
	if ns == "" || !validNamespace(ns) {
		return Label{}, jiterr.New(jiterr.KindInvalidLabelFormat,
			"label namespace %q must be non-empty lowercase alphanumeric with hyphens", ns).With("label", raw)
	}
	if val == "" || strings.ContainsAny(val, "\n\r") {
		return Label{}, jiterr.New(jiterr.KindInvalidLabelFormat,
			"label value for %q must be non-empty and single-line", ns).With("label", raw)
	}
	return Label{Namespace: ns, Value: val}, nil
}

func validNamespace(ns string) bool {
	for _, r := range ns {
		if r == '-' || unicode.IsDigit(r) || (r >= 'a' && r <= 'z') {
			continue
		}
		return false
	}
	return true
}

// AgentID is a parsed <type>:<identifier> actor identity.
type AgentID struct {
	Type       string
	Identifier string
}

// String re-joins the identity in canonical form.
func (a AgentID) String() string {
	return a.Type + ":" + a.Identifier
}

// Well-known agent types. Deployment-specific types are also accepted.
var knownAgentTypes = map[string]bool{
	"agent": true,
	"human": true,
	"bot":   true,
	"ci":    true,
}

// KnownAgentType reports whether the type is one of the well-known set.
func KnownAgentType(t string) bool { return knownAgentTypes[t] }

// ParseAgentID validates and splits an actor identity.
func ParseAgentID(raw string) (AgentID, error) {
	idx := strings.Index(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return AgentID{}, jiterr.New(jiterr.KindMissingAgentIdentity,
			"agent identity %q must be of the form <type>:<identifier>", raw).With("agent_id", raw)
	}
	return AgentID{Type: raw[:idx], Identifier: raw[idx+1:]}, nil
}
