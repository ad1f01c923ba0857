/*
This package implements the REST server for the Sluice control plane.
*/
package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"aquaduct.dev/sluice/src/access"
	"aquaduct.dev/sluice/src/crypto"
	"aquaduct.dev/sluice/src/store"
	"aquaduct.dev/sluice/src/token"
	"aquaduct.dev/sluice/types"
)

// operatorScopes is the scope grant minted for operators that pass the
// login challenge.
var operatorScopes = strings.Join(types.AllScopes, " ")

type Server struct {
	*http.Server

	// store holds all tunnel state.
	store *store.Store

	// clusterID identifies this instance's cluster.
	clusterID string

	// SigningSecret signs access tokens and the login challenge.
	SigningSecret string

	// mu protects challenges.
	mu sync.Mutex

	// challenges maps remote hosts to outstanding login challenges.
	challenges map[string]string
}

// NewServer wires the control plane: store, janitor and routes. An
// empty signing secret is replaced with a random one.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SigningSecret == "" {
		// Generate a random signing secret on startup.
		secret, err := generateRandomSecret(10)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		cfg.SigningSecret = secret
	}
	if cfg.ClusterID == "" {
		cfg.ClusterID = "main"
	}
	if !types.IsValidClusterID(cfg.ClusterID) {
		return nil, fmt.Errorf("invalid cluster ID %q", cfg.ClusterID)
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 30 * time.Second
	}

	st, err := store.New(cfg.StateFile)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.BindIP != "" {
		addr = fmt.Sprintf("%s:%d", cfg.BindIP, cfg.Port)
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: &http.Server{
			Addr:    addr,
			Handler: withRequestLog(mux),
		},
		store:         st,
		clusterID:     cfg.ClusterID,
		SigningSecret: cfg.SigningSecret,
		challenges:    make(map[string]string),
	}

	mux.HandleFunc("GET /healthcheck", s.HealthcheckHandler)
	mux.HandleFunc("/login", s.LoginHandler)

	mux.HandleFunc("GET /tunnels", s.ListTunnelsHandler)
	mux.HandleFunc("POST /tunnels", s.CreateTunnelHandler)
	mux.HandleFunc("GET /tunnels/{tunnelId}", s.GetTunnelHandler)
	mux.HandleFunc("PUT /tunnels/{tunnelId}", s.UpdateTunnelHandler)
	mux.HandleFunc("DELETE /tunnels/{tunnelId}", s.DeleteTunnelHandler)

	mux.HandleFunc("GET /tunnels/{tunnelId}/ports", s.ListPortsHandler)
	mux.HandleFunc("POST /tunnels/{tunnelId}/ports", s.CreatePortHandler)
	mux.HandleFunc("GET /tunnels/{tunnelId}/ports/{portNumber}", s.GetPortHandler)
	mux.HandleFunc("DELETE /tunnels/{tunnelId}/ports/{portNumber}", s.DeletePortHandler)

	mux.HandleFunc("GET /tunnels/{tunnelId}/endpoints", s.ListEndpointsHandler)
	mux.HandleFunc("PUT /tunnels/{tunnelId}/endpoints/{hostId}", s.UpsertEndpointHandler)
	mux.HandleFunc("DELETE /tunnels/{tunnelId}/endpoints/{hostId}", s.DeleteEndpointHandler)

	st.StartJanitor(cfg.JanitorInterval)

	return s, nil
}

// Store exposes the underlying tunnel store.
func (s *Server) Store() *store.Store { return s.store }

// ClusterID returns the cluster this instance serves.
func (s *Server) ClusterID() string { return s.clusterID }

// Close shuts the store down, saving a final snapshot.
func (s *Server) Close() error {
	if err := s.store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	return s.Server.Close()
}

// generateRandomSecret generates a cryptographically secure random string of the specified byte length.
// The string is base64 URL-encoded to ensure it's safe for use in URLs and other text-based contexts.
func generateRandomSecret(length int) (string, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// apiError pairs an HTTP status with the contract error body.
type apiError struct {
	status int
	detail types.ErrorDetail
}

func newAPIError(status int, code, message string) *apiError {
	return &apiError{status: status, detail: types.ErrorDetail{Code: code, Message: message}}
}

func writeError(w http.ResponseWriter, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(map[string]types.ErrorDetail{"error": e.detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// sourceIP extracts the requester's address for IPAddressRanges
// evaluation, preferring X-Forwarded-For when a proxy fronts us.
func sourceIP(r *http.Request) netip.Addr {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if addr, err := netip.ParseAddr(first); err == nil {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// bearerClaims parses the Authorization header. Returns nil claims for
// a missing header (anonymous request); a present but invalid token is
// an error.
func (s *Server) bearerClaims(r *http.Request) (*token.Claims, *apiError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, newAPIError(http.StatusUnauthorized, "invalidToken", "invalid Authorization header")
	}
	claims, err := token.Validate(s.SigningSecret, parts[1])
	if err != nil {
		log.Warn().Err(err).Msg("token validation failed")
		return nil, newAPIError(http.StatusUnauthorized, "invalidToken", "invalid token")
	}
	return claims, nil
}

// authorize decides whether the request may exercise the given scope
// on a tunnel. A token bound to the tunnel and carrying the scope
// short-circuits; otherwise the tunnel's ACL is evaluated against the
// requester's identity attributes. When acl is non-nil it overrides
// the tunnel's own ACL (used for port-level checks with inherited
// entries).
func (s *Server) authorize(r *http.Request, t *types.Tunnel, acl *types.TunnelAccessControl, scope string) *apiError {
	claims, apiErr := s.bearerClaims(r)
	if apiErr != nil {
		return apiErr
	}

	var subject access.Subject
	if claims == nil {
		subject = access.Subject{IsAnonymous: true}
	} else {
		subject = claims.AccessSubject()
		if t != nil && claims.ForTunnel(t.ClusterID, t.TunnelID) && claims.HasScope(scope) {
			return nil
		}
	}
	subject.SourceIP = sourceIP(r)

	if t == nil {
		// No tunnel yet (creation): only a token scope can grant this.
		if claims == nil {
			return newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required")
		}
		if claims.ForTunnel(s.clusterID, "") && claims.HasScope(scope) {
			return nil
		}
		return newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("token does not grant scope %q", scope))
	}

	effective := t.AccessControl
	if acl != nil {
		effective = *acl
	}
	result := access.Evaluate(effective, subject, scope)
	if result.Decision == access.Allow {
		return nil
	}
	log.Debug().
		Str("tunnel", t.TunnelID).
		Str("scope", scope).
		Str("reason", result.Reason.String()).
		Msg("access denied")
	if subject.IsAnonymous {
		return newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required")
	}
	return newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("access denied: %s", result.Reason))
}

func (s *Server) HealthcheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"clusterId": s.clusterID,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getChallenge(w, r)
	case http.MethodPost:
		s.verifyChallenge(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "Failed to generate challenge", http.StatusInternalServerError)
		return
	}
	challenge := hex.EncodeToString(b)
	s.mu.Lock()
	s.challenges[remoteHost(r)] = challenge
	s.mu.Unlock()

	encrypted, err := crypto.Encrypt(s.SigningSecret, "server-"+challenge)
	if err != nil {
		http.Error(w, "Failed to encrypt challenge", http.StatusInternalServerError)
		return
	}
	w.Write(encrypted)
}

func (s *Server) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	var loginReq struct {
		Challenge string `json:"challenge"`
		ClientID  string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
		http.Error(w, "Failed to parse JSON body", http.StatusBadRequest)
		return
	}
	if loginReq.ClientID == "" {
		http.Error(w, "Missing clientId in JSON body", http.StatusBadRequest)
		return
	}
	encrypted, err := base64.StdEncoding.DecodeString(loginReq.Challenge)
	if err != nil {
		http.Error(w, "Invalid challenge format", http.StatusBadRequest)
		return
	}

	decrypted, err := crypto.Decrypt(s.SigningSecret, encrypted)
	if err != nil {
		http.Error(w, "Failed to decrypt challenge", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	challenge, ok := s.challenges[remoteHost(r)]
	delete(s.challenges, remoteHost(r))
	s.mu.Unlock()

	if !ok {
		http.Error(w, "No challenge found for this address", http.StatusUnauthorized)
		return
	}
	if string(decrypted) != challenge {
		http.Error(w, "Invalid challenge", http.StatusUnauthorized)
		return
	}

	// The client knows the signing secret: mint an operator token
	// carrying the full scope grant, valid cluster-wide.
	signed, err := token.Mint(s.SigningSecret, token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: loginReq.ClientID},
		ClusterID:        s.clusterID,
		Scopes:           operatorScopes,
	}, 30*time.Minute)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Write([]byte(signed))
}
