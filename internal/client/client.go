// Package client holds the relying parties allowed to use the gateway.
package client

import "slices"

// Client is a registered relying party.
type Client struct {
	ID            string   `yaml:"id" validate:"required,notblank,max=128"`
	Name          string   `yaml:"name" validate:"required,notblank,max=128"`
	RedirectURIs  []string `yaml:"redirect_uris" validate:"required,min=1,dive,url"`
	AllowedScopes []string `yaml:"allowed_scopes" validate:"dive,notblank"`
	SecretHash    string   `yaml:"secret_hash"`
}

// IsConfidential reports whether the client authenticates with a secret.
// Public clients (native apps) are registered without one.
func (c *Client) IsConfidential() bool {
	return c.SecretHash != ""
}

// HasRedirectURI matches exactly, no prefix or wildcard matching.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsScopes reports whether every requested scope is registered for the
// client. An empty allow list permits every scope the gateway knows.
func (c *Client) AllowsScopes(scopes []string) bool {
	if len(c.AllowedScopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if !slices.Contains(c.AllowedScopes, s) {
			return false
		}
	}
	return true
}
