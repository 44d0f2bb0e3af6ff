package handler_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"once/internal/auth/handler"
	"once/internal/auth/handler/mocks"
	"once/internal/auth/models"
	"once/internal/certificate/certtest"
	"once/internal/token"
)

// newMTLSServer starts an authorize server that demands a client certificate
// but leaves chain verification to the service, as production does.
func newMTLSServer(t *testing.T, svc handler.Service) *httptest.Server {
	t.Helper()
	keys, err := token.NewHS256Signer("k", []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	issuer, err := token.NewIssuer(keys, "https://once.test", time.Minute)
	require.NoError(t, err)

	r := chi.NewRouter()
	handler.New(svc, issuer, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterAuthorize(r)

	srv := httptest.NewUnstartedServer(r)
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func clientWith(srv *httptest.Server, certs ...tls.Certificate) *http.Client {
	c := srv.Client()
	c.Transport.(*http.Transport).TLSClientConfig.Certificates = certs
	return c
}

func authorizeURL(srv *httptest.Server) string {
	q := url.Values{
		"client_id":    {"shop"},
		"redirect_uri": {"https://shop.example/cb"},
		"scope":        {"openid"},
	}
	return srv.URL + "/authorize?" + q.Encode()
}

func TestAuthorizeOverMutualTLS(t *testing.T) {
	pki := certtest.NewPKI(t)
	leaf, key := pki.Issue(t, certtest.Ana())

	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, chain []*x509.Certificate, _ *models.AuthorizeRequest) (*models.ConsentPrompt, error) {
			require.Len(t, chain, 2)
			assert.Equal(t, "ANA GARCIA", chain[0].Subject.CommonName)
			assert.True(t, chain[1].Equal(pki.Issuing.Cert))
			return &models.ConsentPrompt{ClientID: "shop", Ticket: "tkt"}, nil
		})

	srv := newMTLSServer(t, svc)
	c := clientWith(srv, tls.Certificate{
		Certificate: [][]byte{leaf.Raw, pki.Issuing.Cert.Raw},
		PrivateKey:  key,
	})

	resp, err := c.Get(authorizeURL(srv))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthorizeWithoutClientCertificateFailsHandshake(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)

	srv := newMTLSServer(t, svc)
	resp, err := clientWith(srv).Get(authorizeURL(srv))
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}
