package consent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"once/internal/certificate"
	"once/pkg/requestcontext"
)

var (
	// ErrUnsupportedScope is returned before any prompt when a scope is not
	// declared or openid is missing.
	ErrUnsupportedScope = errors.New("unsupported scope")
	// ErrConsentDenied is returned when the user declines.
	ErrConsentDenied = errors.New("consent denied")
	// ErrMissingAttribute is returned when a requested scope needs an
	// attribute the certificate does not carry.
	ErrMissingAttribute = errors.New("certificate lacks attribute for requested scope")
)

// UnsupportedScopeError lists every rejected scope so it can be shown to the user.
type UnsupportedScopeError struct {
	Unknown       []string
	MissingOpenID bool
}

func (e *UnsupportedScopeError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown scopes: "+strings.Join(e.Unknown, " "))
	}
	if e.MissingOpenID {
		parts = append(parts, "openid scope required")
	}
	return fmt.Sprintf("%s (%s)", ErrUnsupportedScope, strings.Join(parts, "; "))
}

func (e *UnsupportedScopeError) Unwrap() error {
	return ErrUnsupportedScope
}

// SubjectPolicy states how the token subject is chosen.
type SubjectPolicy string

const (
	// SubjectStable uses the national identifier.
	SubjectStable SubjectPolicy = "stable"
	// SubjectPairwiseEphemeral uses a fresh random identifier per authorization.
	SubjectPairwiseEphemeral SubjectPolicy = "pairwise_ephemeral"
)

// ScopeRequest is a relying party's request as received at the authorize endpoint.
type ScopeRequest struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
	Nonce       string
}

// Prompt is what the user is asked to approve. Claims hold the values that
// will be released; they are not rendered to the relying party.
type Prompt struct {
	Request       ScopeRequest
	Scopes        []ScopeDefinition
	ClaimNames    []string
	SubjectPolicy SubjectPolicy
	claims        map[string]any
	nationalID    string
}

// Decision is the approved outcome sealed into the transient store.
type Decision struct {
	ClientID      string         `json:"client_id"`
	RedirectURI   string         `json:"redirect_uri"`
	Scopes        []string       `json:"scopes"`
	Claims        map[string]any `json:"claims"`
	Subject       string         `json:"sub"`
	SubjectPolicy SubjectPolicy  `json:"subject_policy"`
	Nonce         string         `json:"nonce,omitempty"`
	AuthTime      time.Time      `json:"auth_time"`
}

// Negotiator builds prompts and decisions.
type Negotiator struct {
	newSubject func() string
}

// NegotiatorOption configures a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithSubjectGenerator overrides the random subject source.
func WithSubjectGenerator(fn func() string) NegotiatorOption {
	return func(n *Negotiator) {
		if fn != nil {
			n.newSubject = fn
		}
	}
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{newSubject: uuid.NewString}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Prepare validates the requested scopes and computes the claims that would
// be released. No prompt is produced for a request with any unsupported scope.
func (n *Negotiator) Prepare(ctx context.Context, id *certificate.Identity, req ScopeRequest) (*Prompt, error) {
	if err := CheckScopes(req.Scopes); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	prompt := &Prompt{
		Request:       req,
		SubjectPolicy: SubjectPairwiseEphemeral,
		claims:        make(map[string]any),
		nationalID:    id.NationalID,
	}

	for _, name := range req.Scopes {
		def := scopeTable[name]
		prompt.Scopes = append(prompt.Scopes, def)
		if def.Identifying {
			prompt.SubjectPolicy = SubjectStable
		}
		for _, claim := range def.Claims {
			value, err := claimValue(claim, id, now)
			if err != nil {
				return nil, err
			}
			prompt.claims[claim] = value
			prompt.ClaimNames = append(prompt.ClaimNames, claim)
		}
	}

	return prompt, nil
}

// CheckScopes rejects undeclared scopes and requests without openid.
func CheckScopes(scopes []string) error {
	var unknown []string
	for _, s := range scopes {
		if _, ok := scopeTable[s]; !ok {
			unknown = append(unknown, s)
		}
	}
	missingOpenID := !slices.Contains(scopes, ScopeOpenID)
	if len(unknown) > 0 || missingOpenID {
		return &UnsupportedScopeError{Unknown: unknown, MissingOpenID: missingOpenID}
	}
	return nil
}

// Decide applies the user's all-or-nothing answer to a prompt.
func (n *Negotiator) Decide(ctx context.Context, prompt *Prompt, approved bool) (*Decision, error) {
	if !approved {
		return nil, ErrConsentDenied
	}

	subject := n.newSubject()
	if prompt.SubjectPolicy == SubjectStable {
		subject = prompt.nationalID
	}

	claims := make(map[string]any, len(prompt.claims))
	for k, v := range prompt.claims {
		claims[k] = v
	}

	return &Decision{
		ClientID:      prompt.Request.ClientID,
		RedirectURI:   prompt.Request.RedirectURI,
		Scopes:        slices.Clone(prompt.Request.Scopes),
		Claims:        claims,
		Subject:       subject,
		SubjectPolicy: prompt.SubjectPolicy,
		Nonce:         prompt.Request.Nonce,
		AuthTime:      requestcontext.Now(ctx).UTC().Truncate(time.Second),
	}, nil
}

func claimValue(claim string, id *certificate.Identity, now time.Time) (any, error) {
	missing := func(attr string) error {
		return fmt.Errorf("%w: %s", ErrMissingAttribute, attr)
	}

	switch claim {
	case ClaimName:
		if id.CommonName == "" {
			return nil, missing("common name")
		}
		return id.CommonName, nil
	case ClaimGivenName:
		if id.GivenName == "" {
			return nil, missing("given name")
		}
		return id.GivenName, nil
	case ClaimFamilyName:
		if id.FamilyName == "" {
			return nil, missing("surname")
		}
		return id.FamilyName, nil
	case ClaimNationalID:
		if id.NationalID == "" {
			return nil, missing("serial number")
		}
		return id.NationalID, nil
	case ClaimBirthdate:
		if !id.HasDateOfBirth() {
			return nil, missing("date of birth")
		}
		return id.DateOfBirth.Format(time.DateOnly), nil
	case ClaimAgeOver18:
		if !id.HasDateOfBirth() {
			return nil, missing("date of birth")
		}
		return AgeAtLeast(id.DateOfBirth, now, 18), nil
	default:
		return nil, fmt.Errorf("no attribute mapping for claim %q", claim)
	}
}

// AgeAtLeast reports whether someone born on dob has turned years by now.
func AgeAtLeast(dob, now time.Time, years int) bool {
	y, m, d := dob.Date()
	birthday := time.Date(y+years, m, d, 0, 0, 0, 0, time.UTC)
	ny, nm, nd := now.UTC().Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return !today.Before(birthday)
}
