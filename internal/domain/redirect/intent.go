// Package redirect classifies inbound deep links into typed authentication intents.
package redirect

import (
	"net/url"
	"strings"
)

// Kind identifies which variant an Intent holds.
type Kind string

const (
	KindIgnored           Kind = "ignored"
	KindAuthorizationCode Kind = "authorization_code"
	KindHandoffCode       Kind = "handoff_code"
	KindAuthError         Kind = "auth_error"
)

// AnomalyCodeAndHandoff is reported when a redirect carries both a code and a handoff value.
const AnomalyCodeAndHandoff = "redirect carried both code and handoff; handoff ignored"

// Intent is the classification of a single redirect URL.
// Exactly one of Code or Description is meaningful, depending on Kind.
type Intent struct {
	Kind        Kind
	Code        string // authorization or handoff code
	State       string // echoed sign-in state for KindAuthorizationCode
	Description string // provider error text for KindAuthError
	Anomaly     string // non-empty when the URL violated the contract but was still classified
}

// IsIgnored reports whether the URL was not an auth callback.
func (i Intent) IsIgnored() bool { return i.Kind == KindIgnored }

// Parser matches redirect URLs against the app's registered callback.
type Parser struct {
	Scheme string // e.g. "textilearchive"
	Host   string // e.g. "auth"
}

// NewParser creates a Parser for scheme://host callbacks.
func NewParser(scheme, host string) Parser {
	return Parser{
		Scheme: strings.ToLower(strings.TrimSuffix(strings.TrimSpace(scheme), "://")),
		Host:   strings.TrimSpace(host),
	}
}

// CallbackURL returns the registered callback, e.g. "textilearchive://auth".
func (p Parser) CallbackURL() string {
	return p.Scheme + "://" + p.Host
}

// Parse classifies raw. It is pure: the same input always yields the same Intent.
func (p Parser) Parse(raw string) Intent {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || p.Scheme == "" {
		return Intent{Kind: KindIgnored}
	}
	if !strings.EqualFold(u.Scheme, p.Scheme) || u.Host != p.Host {
		return Intent{Kind: KindIgnored}
	}

	q := u.Query()
	// Some providers put the result in the fragment instead of the query.
	if frag, fragErr := url.ParseQuery(u.Fragment); fragErr == nil {
		for k, vs := range frag {
			if _, exists := q[k]; !exists {
				q[k] = vs
			}
		}
	}

	errCode := param(q, "error")
	errDesc := param(q, "error_description")
	if errCode != "" || errDesc != "" {
		desc := errDesc
		if desc == "" {
			desc = errCode
		}
		return Intent{Kind: KindAuthError, Description: desc}
	}

	code := param(q, "code")
	handoff := param(q, "handoff")
	state := param(q, "state")
	switch {
	case code != "" && handoff != "":
		return Intent{Kind: KindAuthorizationCode, Code: code, State: state, Anomaly: AnomalyCodeAndHandoff}
	case code != "":
		return Intent{Kind: KindAuthorizationCode, Code: code, State: state}
	case handoff != "":
		return Intent{Kind: KindHandoffCode, Code: handoff}
	default:
		return Intent{Kind: KindIgnored}
	}
}

func param(q url.Values, key string) string {
	return strings.TrimSpace(q.Get(key))
}
