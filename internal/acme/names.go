package acme

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/go-acme/lego/v4/challenge/dns01"
)

// NormalizeDomain trims, lowercases and strips the trailing dot.
func NormalizeDomain(domain string) string {
	return strings.ToLower(dns01.UnFqdn(strings.TrimSpace(domain)))
}

// ChallengeName returns the _acme-challenge name a user must CNAME.
func ChallengeName(domain string) string {
	return "_acme-challenge." + NormalizeDomain(domain)
}

// ChallengeNames returns the distinct _acme-challenge names the CA queries
// for a certificate name set. A wildcard validates at its base name.
func ChallengeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		c := ChallengeName(strings.TrimPrefix(NormalizeDomain(n), "*."))
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Names returns the certificate name set for domain. The first entry is the
// primary name and becomes the CSR common name. A wildcard request covers
// the apex as well; includeWWW is ignored for wildcards since *.domain
// already covers www.
func Names(domain string, wildcard, includeWWW bool) []string {
	d := NormalizeDomain(domain)
	switch {
	case wildcard:
		return []string{"*." + d, d}
	case includeWWW:
		return []string{d, "www." + d}
	default:
		return []string{d}
	}
}

// KeyAuthorization joins a challenge token and the account key thumbprint.
func KeyAuthorization(token, thumbprint string) string {
	return token + "." + thumbprint
}

// ProofValue returns the DNS-01 TXT value for a key authorization: the
// unpadded base64url SHA-256 digest.
func ProofValue(keyAuth string) string {
	sum := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
