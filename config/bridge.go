package config

import (
	"strings"
	"time"
)

// BridgeConfig controls the handshake with the embedded canvas document.
type BridgeConfig struct {
	// MaxAttempts bounds how many times one session payload is pushed before giving up.
	MaxAttempts int `env:"BRIDGE_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBase is the backoff base; attempt n waits RetryBase*2^(n-1).
	RetryBase time.Duration `env:"BRIDGE_RETRY_BASE" envDefault:"1s"`

	// CoalesceWindow absorbs repeated session requests after a delivery.
	CoalesceWindow time.Duration `env:"BRIDGE_COALESCE_WINDOW" envDefault:"500ms"`

	EarlyClearDelay    time.Duration   `env:"BRIDGE_EARLY_CLEAR_DELAY"     envDefault:"200ms"`
	LoadEndResendDelay time.Duration   `env:"BRIDGE_LOAD_END_RESEND_DELAY" envDefault:"250ms"`
	StaggeredResends   []time.Duration `env:"BRIDGE_STAGGERED_RESENDS"     envDefault:"700ms;1700ms;3200ms" envSeparator:";"`
	LoadTimeout        time.Duration   `env:"BRIDGE_LOAD_TIMEOUT"          envDefault:"30s"`

	// BootstrapRequestDelay is how long the injected script waits before asking for a session.
	BootstrapRequestDelay time.Duration `env:"BRIDGE_BOOTSTRAP_REQUEST_DELAY" envDefault:"300ms"`

	BridgePath  string `env:"BRIDGE_PATH"         envDefault:"/auth/import-session"`
	ProjectPath string `env:"BRIDGE_PROJECT_PATH" envDefault:"/project/"`
}

// Sanitize applies guardrails to bridge configuration values.
func (b *BridgeConfig) Sanitize() {
	if b.MaxAttempts < 1 {
		b.MaxAttempts = 1
	}
	if b.MaxAttempts > 10 {
		b.MaxAttempts = 10
	}
	if b.RetryBase < 50*time.Millisecond {
		b.RetryBase = 50 * time.Millisecond
	}
	if b.CoalesceWindow < 0 {
		b.CoalesceWindow = 0
	}
	if b.EarlyClearDelay < 0 {
		b.EarlyClearDelay = 0
	}
	if b.LoadEndResendDelay < 0 {
		b.LoadEndResendDelay = 0
	}
	if b.BootstrapRequestDelay < 0 {
		b.BootstrapRequestDelay = 0
	}

	resends := b.StaggeredResends[:0]
	for _, d := range b.StaggeredResends {
		if d > 0 {
			resends = append(resends, d)
		}
	}
	b.StaggeredResends = resends

	b.BridgePath = ensureLeadingSlash(b.BridgePath, "/auth/import-session")
	b.ProjectPath = ensureLeadingSlash(b.ProjectPath, "/project/")
}

func ensureLeadingSlash(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
