package models

import (
	"strings"

	"once/internal/consent"
	dErrors "once/pkg/domain-errors"
	"once/pkg/validation"
)

// GrantTypeAuthorizationCode is the only grant the token endpoint accepts.
const GrantTypeAuthorizationCode = "authorization_code"

const maxScopes = 16

// AuthorizeRequest is the query of GET /authorize.
type AuthorizeRequest struct {
	ClientID    string   `form:"client_id" validate:"required,notblank,max=128"`
	RedirectURI string   `form:"redirect_uri" validate:"required,url,max=2048"`
	Scope       string   `form:"scope" validate:"required,scopetoken,max=512"`
	State       string   `form:"state" validate:"max=512"`
	Nonce       string   `form:"nonce" validate:"max=512"`
	Scopes      []string `form:"-" validate:"-"`
}

func (r *AuthorizeRequest) Sanitize() {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.RedirectURI = strings.TrimSpace(r.RedirectURI)
}

func (r *AuthorizeRequest) Normalize() {
	r.Scopes = consent.ParseScopes(r.Scope)
}

func (r *AuthorizeRequest) Validate() error {
	if err := validation.Validate(r); err != nil {
		return err
	}
	if len(r.Scopes) > maxScopes {
		return dErrors.New(dErrors.CodeInvalidRequest, "too many scopes")
	}
	return nil
}

// DecisionRequest is the body of POST /authorize/decision.
type DecisionRequest struct {
	Ticket  string `json:"ticket" form:"ticket" validate:"required,notblank,max=4096"`
	Approve bool   `json:"approve" form:"approve"`
}

func (r *DecisionRequest) Sanitize() {
	r.Ticket = strings.TrimSpace(r.Ticket)
}

func (r *DecisionRequest) Validate() error {
	return validation.Validate(r)
}

// TokenRequest is the body of POST /token, form encoded or JSON.
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type" validate:"required"`
	Code         string `json:"code" form:"code" validate:"required,max=128"`
	ClientID     string `json:"client_id" form:"client_id" validate:"required,notblank,max=128"`
	ClientSecret string `json:"client_secret" form:"client_secret" validate:"max=256"`
	RedirectURI  string `json:"redirect_uri" form:"redirect_uri" validate:"required,url,max=2048"`
}

func (r *TokenRequest) Sanitize() {
	r.GrantType = strings.TrimSpace(r.GrantType)
	r.Code = strings.TrimSpace(r.Code)
	r.ClientID = strings.TrimSpace(r.ClientID)
}

func (r *TokenRequest) Validate() error {
	return validation.Validate(r)
}
