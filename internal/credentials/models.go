package credentials

import (
	"strings"
	"time"
)

// Credential is a deployable secret (a VPN setup key, an API token) together
// with the endpoint it belongs to and its usage bookkeeping. The Secret field
// only carries plaintext inside the deployment flow; everything rendered to
// callers goes through MaskSecret.
type Credential struct {
	ID           string
	Name         string
	EndpointURL  string
	EndpointPort int
	Secret       string
	Enabled      bool
	UsageCount   int
	LastUsedAt   *time.Time
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MaskSecret returns a redacted preview of a secret value: the first four
// characters followed by asterisks. Values shorter than eight characters are
// fully masked.
func MaskSecret(secret string) string {
	if len(secret) < 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
