package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dErrors "once/pkg/domain-errors"
	"once/pkg/secrets"
	"once/pkg/validation"
)

var (
	ErrUnknownClient        = errors.New("unknown client")
	ErrRedirectMismatch     = errors.New("redirect uri not registered for client")
	ErrScopeNotAllowed      = errors.New("scope not allowed for client")
	ErrAuthenticationFailed = errors.New("client authentication failed")
)

type registryFile struct {
	Clients []Client `yaml:"clients"`
}

// Registry is an immutable, in-memory set of clients loaded at startup.
type Registry struct {
	clients map[string]*Client
}

// LoadFile reads a YAML client registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document:
//
//	clients:
//	  - id: shop
//	    name: Example Shop
//	    redirect_uris: [https://shop.example/callback]
//	    allowed_scopes: [openid, age_verification]
//	    secret_hash: $2a$10$...
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode clients file: %w", err)
	}
	return New(file.Clients...)
}

// New builds a registry from clients, rejecting invalid or duplicate entries.
func New(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]*Client, len(clients))}
	for i := range clients {
		c := clients[i]
		if err := validation.Validate(&c); err != nil {
			return nil, fmt.Errorf("client %d: %w", i, err)
		}
		if _, dup := r.clients[c.ID]; dup {
			return nil, fmt.Errorf("duplicate client id %q", c.ID)
		}
		r.clients[c.ID] = &c
	}
	return r, nil
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(_ context.Context, id string) (*Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrUnknownClient
	}
	return c, nil
}

// ResolveAuthorize checks the authorize-leg parameters: the client exists,
// redirectURI is registered verbatim and every scope is allowed.
func (r *Registry) ResolveAuthorize(ctx context.Context, id, redirectURI string, scopes []string) (*Client, error) {
	c, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasRedirectURI(redirectURI) {
		return nil, ErrRedirectMismatch
	}
	if !c.AllowsScopes(scopes) {
		return nil, ErrScopeNotAllowed
	}
	return c, nil
}

// Authenticate checks the token-leg client credentials. Confidential clients
// must present their secret; a public client must not present one.
func (r *Registry) Authenticate(ctx context.Context, id, secret string) (*Client, error) {
	c, err := r.Lookup(ctx, id)
	if err != nil {
		if secret != "" {
			secrets.CompareUnknown(secret)
		}
		return nil, err
	}
	if !c.IsConfidential() {
		if secret != "" {
			return nil, ErrAuthenticationFailed
		}
		return c, nil
	}
	if secret == "" {
		return nil, ErrAuthenticationFailed
	}
	if err := secrets.VerifyClientSecret(secret, c.SecretHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidClient) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	return c, nil
}
