package acme_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/LightHostingFree/sslgen/internal/acme"
)

func TestProofValue(t *testing.T) {
	keyAuth := acme.KeyAuthorization(
		"evaGxfADs6pSRb2LAv9IZf17Dt3juxGJ-PCt92wr-oA",
		"9jg46WB3rR_AHD-EBXdN7cBkH1WOu0tA3M9fm21mqTI",
	)
	const want = "lCM7cZyQXcVHK2nnW3jjAhNT3Fvm18UN-kWZZknKoYM"
	if got := acme.ProofValue(keyAuth); got != want {
		t.Errorf("ProofValue: got %q, want %q", got, want)
	}
	if len(want) != 43 {
		t.Fatalf("proof values are 43 characters")
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		domain     string
		wildcard   bool
		includeWWW bool
		want       []string
	}{
		{"example.com", false, false, []string{"example.com"}},
		{"Example.COM.", false, true, []string{"example.com", "www.example.com"}},
		{" example.com", true, false, []string{"*.example.com", "example.com"}},
		{"example.com", true, true, []string{"*.example.com", "example.com"}},
	}
	for _, tc := range tests {
		got := acme.Names(tc.domain, tc.wildcard, tc.includeWWW)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Names(%q, %v, %v) = %v, want %v", tc.domain, tc.wildcard, tc.includeWWW, got, tc.want)
		}
	}
}

func TestChallengeName(t *testing.T) {
	if got := acme.ChallengeName("Shop.Example.com."); got != "_acme-challenge.shop.example.com" {
		t.Errorf("ChallengeName: got %q", got)
	}
}

func TestChallengeNames(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"example.com"}, "_acme-challenge.example.com"},
		{[]string{"*.example.com", "example.com"}, "_acme-challenge.example.com"},
		{[]string{"example.com", "www.example.com"}, "_acme-challenge.example.com,_acme-challenge.www.example.com"},
	}
	for _, tc := range tests {
		if got := strings.Join(acme.ChallengeNames(tc.names), ","); got != tc.want {
			t.Errorf("ChallengeNames(%v): got %q, want %q", tc.names, got, tc.want)
		}
	}
}
