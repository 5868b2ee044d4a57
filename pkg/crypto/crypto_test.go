package crypto

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	second, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if first == second {
		t.Fatal("expected distinct tokens")
	}
	if len(first) < 32 {
		t.Fatalf("token too short: %d chars", len(first))
	}
}

func TestSignAndVerifyPayload(t *testing.T) {
	payload := []byte(`{"type":"permission_threshold"}`)
	secret := "shared-secret"

	signature := SignPayload(payload, secret)
	if !strings.HasPrefix(signature, "sha256=") {
		t.Fatalf("expected algorithm prefix, got %q", signature)
	}

	if !VerifySignature(payload, secret, signature) {
		t.Fatal("expected signature to verify")
	}
	if VerifySignature([]byte(`{"type":"tampered"}`), secret, signature) {
		t.Fatal("expected tampered payload to fail verification")
	}
	if VerifySignature(payload, "other-secret", signature) {
		t.Fatal("expected wrong secret to fail verification")
	}
}

func TestSignPayloadIsDeterministic(t *testing.T) {
	payload := []byte("body")
	if SignPayload(payload, "s") != SignPayload(payload, "s") {
		t.Fatal("expected identical signatures for identical inputs")
	}
}
