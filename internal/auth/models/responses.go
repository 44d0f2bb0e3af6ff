package models

import (
	"net/url"
)

// ScopeView describes one requested scope to the user.
type ScopeView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConsentPrompt is the response of GET /authorize. It names the attributes
// that would be disclosed but never carries their values.
type ConsentPrompt struct {
	ClientID      string      `json:"client_id"`
	ClientName    string      `json:"client_name"`
	Scopes        []ScopeView `json:"scopes"`
	Claims        []string    `json:"claims"`
	SubjectPolicy string      `json:"subject_policy"`
	Ticket        string      `json:"ticket"`
	ExpiresIn     int64       `json:"expires_in"`
}

// Redirect sends the user agent back to the relying party.
type Redirect struct {
	RedirectURI string
	Code        string
	State       string
	Error       string
}

// Location renders the redirect target with code/state or error appended to
// any query the registered URI already carries.
func (r *Redirect) Location() string {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return r.RedirectURI
	}
	q := u.Query()
	if r.Error != "" {
		q.Set("error", r.Error)
	} else {
		q.Set("code", r.Code)
	}
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// String keeps the code out of logs.
func (r *Redirect) String() string {
	if r.Error != "" {
		return "redirect(" + r.Error + ")"
	}
	return "redirect(code)"
}
