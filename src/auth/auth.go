// Package auth implements the client side of the control plane's
// login challenge flow and an http.RoundTripper that keeps the
// obtained JWT fresh.
package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"aquaduct.dev/sluice/src/crypto"
)

// GetToken runs the challenge exchange against the server's /login
// endpoint and returns a signed JWT for clientID.
func GetToken(serverAddr, signingSecret, clientID string) (string, error) {
	client := http.Client{Timeout: 10 * time.Second}

	// GET /login to get the challenge
	loginURL := fmt.Sprintf("http://%s/login", serverAddr)
	log.Debug().Str("url", loginURL).Msg("Login: requesting challenge")
	resp, err := client.Get(loginURL)
	if err != nil {
		log.Error().Err(err).Msg("Login: GET /login failed")
		return "", fmt.Errorf("failed to get login challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login challenge failed with status %d: %s", resp.StatusCode, string(body))
	}

	encryptedChallenge, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("Login: failed to read challenge body")
		return "", fmt.Errorf("failed to read login challenge: %w", err)
	}
	log.Debug().Int("len", len(encryptedChallenge)).Str("server", serverAddr).Msg("Login: received encrypted challenge")

	decrypted, err := crypto.Decrypt(signingSecret, encryptedChallenge)
	if err != nil {
		log.Error().Err(err).Msg("Login: decrypt failed (maybe wrong signing secret)")
		return "", fmt.Errorf("failed to decrypt login challenge - is the signing secret correct? %w", err)
	}

	if !strings.HasPrefix(string(decrypted), "server-") {
		return "", fmt.Errorf("invalid server challenge")
	}
	challenge := strings.TrimPrefix(string(decrypted), "server-")

	// POST the re-encrypted challenge back to /login. Encrypted bytes
	// are base64-encoded so the JSON round-trip is safe.
	encrypted, err := crypto.Encrypt(signingSecret, challenge)
	if err != nil {
		log.Error().Err(err).Msg("Login: encryption of response failed")
		return "", fmt.Errorf("failed to encrypt login challenge: %w", err)
	}

	reqBody := map[string]any{
		"challenge": base64.StdEncoding.EncodeToString(encrypted),
		"clientId":  clientID,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal login request: %w", err)
	}
	resp, err = client.Post(loginURL, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error().Err(err).Msg("Login: POST /login failed")
		return "", fmt.Errorf("failed to post login challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(body))
	}

	tok, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("server", serverAddr).Msg("Login: failed to read JWT")
		return "", fmt.Errorf("failed to read JWT: %w", err)
	}
	log.Info().Msg("Login: authenticated successfully!")

	return string(tok), nil
}

// Login performs the challenge flow and returns an HTTP client whose
// transport attaches and refreshes the JWT.
func Login(serverAddr, signingSecret, clientID string) (*http.Client, error) {
	tok, err := GetToken(serverAddr, signingSecret, clientID)
	if err != nil {
		return nil, err
	}

	transport := WithJWT(http.DefaultTransport, tok, func() (string, error) {
		return GetToken(serverAddr, signingSecret, clientID)
	})
	return &http.Client{Timeout: 10 * time.Second, Transport: transport}, nil
}

// Transport is an http.RoundTripper that sets the Authorization header
// and refreshes the JWT through the renewal callback when it is about
// to expire.
type Transport struct {
	mu      sync.Mutex
	jwt     string
	refresh func() (string, error)
	rt      http.RoundTripper
}

// WithJWT wraps rt with JWT handling. The renewal function is called
// whenever the current token is within a minute of expiry.
func WithJWT(rt http.RoundTripper, token string, refresh func() (string, error)) *Transport {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Transport{jwt: token, refresh: refresh, rt: rt}
}

// jwtValid reports whether the current token has more than a minute of
// life left. Unparsable tokens count as invalid and trigger a refresh.
func jwtValid(token string) bool {
	if token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	return time.Until(time.Unix(int64(exp), 0)) > 1*time.Minute
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	t.mu.Lock()
	if !jwtValid(t.jwt) && t.refresh != nil {
		log.Info().Msg("Login: refreshing JWT...")
		newJWT, err := t.refresh()
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.jwt = newJWT
	}
	tok := t.jwt
	t.mu.Unlock()

	req.Header.Set("Authorization", "Bearer "+tok)
	return t.rt.RoundTrip(req)
}
