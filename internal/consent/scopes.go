// Package consent turns a relying party's scope request and a verified
// identity into an all-or-nothing consent decision.
package consent

import (
	"slices"
	"strings"
)

// Scope names accepted from relying parties.
const (
	ScopeOpenID          = "openid"
	ScopeProfile         = "profile"
	ScopeNationalID      = "national_id"
	ScopeBirthdate       = "birthdate"
	ScopeAgeVerification = "age_verification"
)

// Claim names that may appear in an identity token.
const (
	ClaimName       = "name"
	ClaimGivenName  = "given_name"
	ClaimFamilyName = "family_name"
	ClaimNationalID = "national_id"
	ClaimBirthdate  = "birthdate"
	ClaimAgeOver18  = "age_over_18"
)

// ScopeDefinition lists the claims a scope releases.
type ScopeDefinition struct {
	Name        string
	Claims      []string
	Identifying bool
	Description string
}

var scopeTable = map[string]ScopeDefinition{
	ScopeOpenID: {
		Name:        ScopeOpenID,
		Description: "Sign you in",
	},
	ScopeProfile: {
		Name:        ScopeProfile,
		Claims:      []string{ClaimName, ClaimGivenName, ClaimFamilyName},
		Identifying: true,
		Description: "Your full name",
	},
	ScopeNationalID: {
		Name:        ScopeNationalID,
		Claims:      []string{ClaimNationalID},
		Identifying: true,
		Description: "Your national identification number",
	},
	ScopeBirthdate: {
		Name:        ScopeBirthdate,
		Claims:      []string{ClaimBirthdate},
		Identifying: true,
		Description: "Your date of birth",
	},
	ScopeAgeVerification: {
		Name:        ScopeAgeVerification,
		Claims:      []string{ClaimAgeOver18},
		Description: "Whether you are 18 or older",
	},
}

// LookupScope returns the definition of a declared scope.
func LookupScope(name string) (ScopeDefinition, bool) {
	def, ok := scopeTable[name]
	return def, ok
}

// KnownClaim reports whether any declared scope releases claim.
func KnownClaim(claim string) bool {
	for _, def := range scopeTable {
		if slices.Contains(def.Claims, claim) {
			return true
		}
	}
	return false
}

// ParseScopes splits a space-delimited scope string, dropping duplicates
// and keeping first-seen order.
func ParseScopes(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}
