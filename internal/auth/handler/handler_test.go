package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"once/internal/auth/handler/mocks"
	"once/internal/auth/models"
	"once/internal/token"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/httputil"
)

type staticKeys struct{ set jose.JSONWebKeySet }

func (k staticKeys) JWKS() jose.JSONWebKeySet { return k.set }

type HandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func (s *HandlerSuite) newHandler(t *testing.T) (*mocks.MockService, http.Handler) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	h := New(svc, staticKeys{set: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterAuthorize(r)
	h.RegisterToken(r)
	return svc, r
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func (s *HandlerSuite) TestAuthorize() {
	query := url.Values{
		"client_id":    {"shop"},
		"redirect_uri": {"https://shop.example/cb"},
		"scope":        {"openid age_verification"},
		"state":        {"st"},
		"nonce":        {"n"},
	}

	s.T().Run("renders the consent prompt", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ any, req *models.AuthorizeRequest) (*models.ConsentPrompt, error) {
				s.Equal([]string{"openid", "age_verification"}, req.Scopes)
				s.Equal("st", req.State)
				return &models.ConsentPrompt{ClientID: "shop", Claims: []string{"age_over_18"}, Ticket: "tkt"}, nil
			})

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil))

		s.Equal(http.StatusOK, rr.Code)
		var prompt models.ConsentPrompt
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &prompt))
		s.Equal("tkt", prompt.Ticket)
		s.Equal([]string{"age_over_18"}, prompt.Claims)
	})

	s.T().Run("invalid query never reaches the service", func(t *testing.T) {
		_, router := s.newHandler(t)
		q := url.Values{"client_id": {"shop"}, "scope": {"openid"}}

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("invalid_request", decodeError(t, rr).Error)
	})

	s.T().Run("unsupported scope is rendered, not redirected", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidScope, "unsupported scope (unknown scopes: driver-license)"))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil))

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Empty(rr.Header().Get("Location"))
		s.Equal("invalid_scope", decodeError(t, rr).Error)
	})

	s.T().Run("rejected certificate", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Prepare(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeCertificateRejected, "client certificate rejected"))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil))

		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Equal("certificate_rejected", decodeError(t, rr).Error)
	})
}

func (s *HandlerSuite) TestDecision() {
	s.T().Run("approval redirects with code and state", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Decide(gomock.Any(), gomock.Any(), &models.DecisionRequest{Ticket: "tkt", Approve: true}).
			Return(&models.Redirect{RedirectURI: "https://shop.example/cb", Code: "abc", State: "st"}, nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/authorize/decision", strings.NewReader(`{"ticket":"tkt","approve":true}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusFound, rr.Code)
		loc, err := url.Parse(rr.Header().Get("Location"))
		s.Require().NoError(err)
		s.Equal("shop.example", loc.Host)
		s.Equal("abc", loc.Query().Get("code"))
		s.Equal("st", loc.Query().Get("state"))
	})

	s.T().Run("form denial", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Decide(gomock.Any(), gomock.Any(), &models.DecisionRequest{Ticket: "tkt", Approve: false}).
			Return(&models.Redirect{RedirectURI: "https://shop.example/cb", Error: "access_denied"}, nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/authorize/decision", strings.NewReader("ticket=tkt&approve=false"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusFound, rr.Code)
		s.Contains(rr.Header().Get("Location"), "error=access_denied")
		s.NotContains(rr.Header().Get("Location"), "code=")
	})

	s.T().Run("malformed body", func(t *testing.T) {
		_, router := s.newHandler(t)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/authorize/decision", strings.NewReader("{")))

		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.T().Run("missing ticket", func(t *testing.T) {
		_, router := s.newHandler(t)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/authorize/decision", strings.NewReader(`{"approve":true}`)))

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("invalid_request", decodeError(t, rr).Error)
	})
}

func (s *HandlerSuite) tokenForm() url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"abc"},
		"client_id":    {"shop"},
		"redirect_uri": {"https://shop.example/cb"},
	}
}

func (s *HandlerSuite) TestToken() {
	s.T().Run("form request returns tokens", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Exchange(gomock.Any(), &models.TokenRequest{
			GrantType:   "authorization_code",
			Code:        "abc",
			ClientID:    "shop",
			RedirectURI: "https://shop.example/cb",
		}).Return(&token.Result{IDToken: "id", AccessToken: "at", TokenType: "Bearer", ExpiresIn: 300}, nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(s.tokenForm().Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusOK, rr.Code)
		var res token.Result
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &res))
		s.Equal("id", res.IDToken)
		s.Equal("Bearer", res.TokenType)
		s.Equal("no-cache", rr.Header().Get("Pragma"))
	})

	s.T().Run("basic authentication supplies client credentials", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Exchange(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *models.TokenRequest) (*token.Result, error) {
				s.Equal("shop", req.ClientID)
				s.Equal("s3cret", req.ClientSecret)
				return &token.Result{}, nil
			})

		form := s.tokenForm()
		form.Del("client_id")
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth("shop", "s3cret")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusOK, rr.Code)
	})

	s.T().Run("json body", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return(&token.Result{}, nil)

		rr := httptest.NewRecorder()
		body := `{"grant_type":"authorization_code","code":"abc","client_id":"shop","redirect_uri":"https://shop.example/cb"}`
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body)))

		s.Equal(http.StatusOK, rr.Code)
	})

	s.T().Run("every redemption failure looks the same", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Exchange(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidGrant, "invalid authorization code"))

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(s.tokenForm().Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusBadRequest, rr.Code)
		body := decodeError(t, rr)
		s.Equal("invalid_grant", body.Error)
		s.Equal("invalid authorization code", body.Description)
	})

	s.T().Run("client authentication failure", func(t *testing.T) {
		svc, router := s.newHandler(t)
		svc.EXPECT().Exchange(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidClient, "client authentication failed"))

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(s.tokenForm().Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusUnauthorized, rr.Code)
		s.NotEmpty(rr.Header().Get("WWW-Authenticate"))
	})

	s.T().Run("missing code", func(t *testing.T) {
		_, router := s.newHandler(t)
		form := s.tokenForm()
		form.Del("code")

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		router.ServeHTTP(rr, req)

		s.Equal(http.StatusBadRequest, rr.Code)
		s.Equal("invalid_request", decodeError(t, rr).Error)
	})
}

func (s *HandlerSuite) TestJWKS() {
	_, router := s.newHandler(s.T())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	s.Equal(http.StatusOK, rr.Code)
	s.JSONEq(`{"keys":[]}`, rr.Body.String())
}
