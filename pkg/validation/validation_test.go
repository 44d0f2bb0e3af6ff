package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "once/pkg/domain-errors"
)

type authorizeQuery struct {
	ClientID    string `form:"client_id" validate:"required,notblank,max=128"`
	RedirectURI string `form:"redirect_uri" validate:"required,url"`
	Scope       string `form:"scope" validate:"required,scopetoken"`
}

func TestValidate(t *testing.T) {
	valid := authorizeQuery{ClientID: "rp-shop", RedirectURI: "https://shop.example/cb", Scope: "openid profile"}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name    string
		mutate  func(*authorizeQuery)
		wantMsg string
	}{
		{"missing client", func(q *authorizeQuery) { q.ClientID = "" }, "client_id is required"},
		{"blank client", func(q *authorizeQuery) { q.ClientID = "   " }, "client_id must not be blank"},
		{"bad redirect", func(q *authorizeQuery) { q.RedirectURI = "not a url" }, "redirect_uri must be a valid url"},
		{"quote in scope", func(q *authorizeQuery) { q.Scope = `openid "x"` }, "scope contains invalid characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)
			err := Validate(q)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "redirect_uri", toSnakeCase("RedirectURI"))
	assert.Equal(t, "client_id", toSnakeCase("ClientID"))
}
