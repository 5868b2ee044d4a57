package alert

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/governor/pkg/crypto"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testAlert() Alert {
	return Alert{
		Type:      TypePermissionErrors,
		Severity:  SeverityCritical,
		Message:   "threshold crossed for 2 resources",
		Resources: []string{"orders", "users"},
		Details:   map[string]interface{}{"threshold": 5},
	}
}

func TestRaiseAppendsToLog(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, WithNow(fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))))

	require.NoError(t, sink.Raise(context.Background(), testAlert()))
	require.NoError(t, sink.Raise(context.Background(), testAlert()))

	f, err := os.Open(sink.LogPath())
	require.NoError(t, err)
	defer f.Close()

	var lines []Alert
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &a))
		lines = append(lines, a)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	require.Equal(t, TypePermissionErrors, lines[0].Type)
	require.NotEmpty(t, lines[0].ID)
	require.NotEqual(t, lines[0].ID, lines[1].ID)
}

func TestRaiseWritesAlertArtifact(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink(dir, WithNow(fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))))

	require.NoError(t, sink.Raise(context.Background(), testAlert()))

	matches, err := filepath.Glob(filepath.Join(dir, "alert-20250301T120000Z-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	var a Alert
	require.NoError(t, json.Unmarshal(raw, &a))
	require.Equal(t, []string{"orders", "users"}, a.Resources)
}

func TestRaiseDeliversWebhook(t *testing.T) {
	received := make(chan []byte, 1)
	var gotSignature, gotAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Governor-Signature")
		gotAgent = r.Header.Get("User-Agent")
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewSink(t.TempDir(), WithWebhook(srv.URL, "s3cret"))
	require.NoError(t, sink.Raise(context.Background(), testAlert()))

	select {
	case body := <-received:
		var a Alert
		require.NoError(t, json.Unmarshal(body, &a))
		require.Equal(t, TypePermissionErrors, a.Type)

		require.True(t, crypto.VerifySignature(body, "s3cret", gotSignature))
		require.Equal(t, "Governor-Webhook/1.0", gotAgent)
	default:
		t.Fatal("webhook was never called")
	}
}

func TestRaiseWebhookFailureIsBestEffort(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSink(t.TempDir(),
		WithWebhook(srv.URL, ""),
		WithRetry(2, time.Millisecond))

	// Local persistence succeeded, so Raise reports success even though the
	// webhook endpoint kept failing.
	require.NoError(t, sink.Raise(context.Background(), testAlert()))
	require.Equal(t, int32(3), attempts.Load())
}

func TestRaiseWithoutWebhook(t *testing.T) {
	sink := NewSink(t.TempDir())
	require.NoError(t, sink.Raise(context.Background(), testAlert()))
}

func TestRaiseKeepsProvidedIdentity(t *testing.T) {
	sink := NewSink(t.TempDir())

	a := testAlert()
	a.ID = "fixed-id"
	a.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Raise(context.Background(), a))

	raw, err := os.ReadFile(sink.LogPath())
	require.NoError(t, err)

	var logged Alert
	require.NoError(t, json.Unmarshal(raw[:len(raw)-1], &logged))
	require.Equal(t, "fixed-id", logged.ID)
	require.True(t, logged.CreatedAt.Equal(a.CreatedAt))
}
