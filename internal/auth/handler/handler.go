package handler

//go:generate mockgen -source=handler.go -destination=mocks/auth-mocks.go -package=mocks Service

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v3"

	"once/internal/auth/models"
	"once/internal/token"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/httputil"
	"once/pkg/requestcontext"
)

// Service is the pipeline behind both servers.
type Service interface {
	Prepare(ctx context.Context, chain []*x509.Certificate, req *models.AuthorizeRequest) (*models.ConsentPrompt, error)
	Decide(ctx context.Context, chain []*x509.Certificate, req *models.DecisionRequest) (*models.Redirect, error)
	Exchange(ctx context.Context, req *models.TokenRequest) (*token.Result, error)
}

// KeySource publishes the token verification keys.
type KeySource interface {
	JWKS() jose.JSONWebKeySet
}

// Handler serves the authorize endpoints (mTLS server) and the token
// endpoints (public server).
type Handler struct {
	auth   Service
	keys   KeySource
	logger *slog.Logger
}

func New(auth Service, keys KeySource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: auth, keys: keys, logger: logger}
}

// RegisterAuthorize mounts the certificate-bearing routes.
func (h *Handler) RegisterAuthorize(r chi.Router) {
	r.Get("/authorize", h.HandleAuthorize)
	r.Post("/authorize/decision", h.HandleDecision)
}

// RegisterToken mounts the relying-party routes. Extra middleware applies to
// POST /token only.
func (h *Handler) RegisterToken(r chi.Router, tokenMiddleware ...func(http.Handler) http.Handler) {
	r.With(tokenMiddleware...).Post("/token", h.HandleToken)
	r.Get("/.well-known/jwks.json", h.HandleJWKS)
}

// HandleAuthorize implements GET /authorize.
// Errors are rendered to the user agent and never redirected, since the
// redirect target has not been verified at that point.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	q := r.URL.Query()
	req := &models.AuthorizeRequest{
		ClientID:    q.Get("client_id"),
		RedirectURI: q.Get("redirect_uri"),
		Scope:       q.Get("scope"),
		State:       q.Get("state"),
		Nonce:       q.Get("nonce"),
	}
	if !httputil.Prepare(w, req, h.logger, ctx, requestID) {
		return
	}

	prompt, err := h.auth.Prepare(ctx, peerChain(r), req)
	if err != nil {
		h.logger.WarnContext(ctx, "authorize failed",
			"request_id", requestID,
			"client_id", req.ClientID,
			"code", string(dErrors.CodeOf(err)),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, prompt)
}

// HandleDecision implements POST /authorize/decision.
// Input: {"ticket": "...", "approve": true} as JSON or form.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := decodeDecision(r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to decode decision request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body"))
		return
	}
	if !httputil.Prepare(w, req, h.logger, ctx, requestID) {
		return
	}

	redirect, err := h.auth.Decide(ctx, peerChain(r), req)
	if err != nil {
		h.logger.WarnContext(ctx, "consent decision failed",
			"request_id", requestID,
			"code", string(dErrors.CodeOf(err)),
		)
		httputil.WriteError(w, err)
		return
	}

	http.Redirect(w, r, redirect.Location(), http.StatusFound)
}

// HandleToken implements POST /token. Client credentials may be sent in the
// body or with HTTP Basic authentication.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := decodeTokenRequest(r)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to decode token request",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "invalid request body"))
		return
	}
	if !httputil.Prepare(w, req, h.logger, ctx, requestID) {
		return
	}

	res, err := h.auth.Exchange(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "token exchange failed",
			"request_id", requestID,
			"client_id", req.ClientID,
			"code", string(dErrors.CodeOf(err)),
		)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleJWKS implements GET /.well-known/jwks.json.
func (h *Handler) HandleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	httputil.WriteJSON(w, http.StatusOK, h.keys.JWKS())
}

func peerChain(r *http.Request) []*x509.Certificate {
	if r.TLS == nil {
		return nil
	}
	return r.TLS.PeerCertificates
}

func isForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

func decodeDecision(r *http.Request) (*models.DecisionRequest, error) {
	if !isForm(r) {
		var req models.DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req := &models.DecisionRequest{Ticket: r.PostForm.Get("ticket")}
	if v := r.PostForm.Get("approve"); v != "" {
		approve, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		req.Approve = approve
	}
	return req, nil
}

func decodeTokenRequest(r *http.Request) (*models.TokenRequest, error) {
	var req models.TokenRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		req = models.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}
	return &req, nil
}
