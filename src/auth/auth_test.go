package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// MockRoundTripper implements http.RoundTripper
type MockRoundTripper struct {
	lastRequest *http.Request
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.lastRequest = req
	return &http.Response{StatusCode: http.StatusOK}, nil
}

func generateToken(expiry time.Time) string {
	claims := jwt.MapClaims{
		"exp": expiry.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// Signing key doesn't matter for ParseUnverified
	s, _ := token.SignedString([]byte("secret"))
	return s
}

func TestWithJWT_Renewal(t *testing.T) {
	mockRT := &MockRoundTripper{}

	// A token that expires in 30 seconds needs renewal, since the
	// refresh threshold is 1 minute.
	oldToken := generateToken(time.Now().Add(30 * time.Second))
	newToken := generateToken(time.Now().Add(1 * time.Hour))

	renewalCount := 0
	renewalFunc := func() (string, error) {
		renewalCount++
		return newToken, nil
	}

	transport := WithJWT(mockRT, oldToken, renewalFunc)

	req, _ := http.NewRequest("GET", "http://example.com", nil)

	// First request should trigger renewal.
	_, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}

	if renewalCount != 1 {
		t.Errorf("Expected renewal count 1, got %d", renewalCount)
	}

	authHeader := mockRT.lastRequest.Header.Get("Authorization")
	expectedHeader := "Bearer " + newToken
	if authHeader != expectedHeader {
		t.Errorf("Expected header %s, got %s", expectedHeader, authHeader)
	}

	if transport.jwt != newToken {
		t.Errorf("Transport JWT not updated internally")
	}

	// Second request should NOT trigger renewal.
	_, err = transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}

	if renewalCount != 1 {
		t.Errorf("Expected renewal count to remain 1, got %d", renewalCount)
	}

	authHeader = mockRT.lastRequest.Header.Get("Authorization")
	if authHeader != expectedHeader {
		t.Errorf("Expected header %s, got %s", expectedHeader, authHeader)
	}
}

func TestWithJWT_UnparsableTokenTriggersRefresh(t *testing.T) {
	mockRT := &MockRoundTripper{}
	fresh := generateToken(time.Now().Add(1 * time.Hour))

	renewalCount := 0
	transport := WithJWT(mockRT, "not-a-jwt", func() (string, error) {
		renewalCount++
		return fresh, nil
	})

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	if renewalCount != 1 {
		t.Errorf("Expected renewal count 1, got %d", renewalCount)
	}
	if got := mockRT.lastRequest.Header.Get("Authorization"); got != "Bearer "+fresh {
		t.Errorf("unexpected Authorization header: %s", got)
	}
}
