package password

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sha1Upper(password string) string {
	sum := sha1.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func TestBreachCheckTransmitsOnlyPrefix(t *testing.T) {
	const pw = "password123"
	digest := sha1Upper(pw)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, "%s:42\r\n", digest[5:])
	}))
	defer srv.Close()

	checker, err := NewBreachChecker(BreachConfig{BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewBreachChecker: %v", err)
	}

	res, err := checker.Check(context.Background(), pw)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Known || !res.Breached || res.Count != 42 {
		t.Fatalf("unexpected result %+v", res)
	}

	// Only the 5-character digest prefix may appear in the request. Neither
	// the password nor any longer digest fragment leaves the process.
	want := "/" + digest[:5]
	if gotPath != want {
		t.Fatalf("request path %q, want %q", gotPath, want)
	}
	if strings.Contains(gotPath, digest[:6]) {
		t.Fatalf("request leaked more than the 5-char prefix: %q", gotPath)
	}
}

func TestBreachCheckCleanPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plausible range response that does not contain our suffix.
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:3\r\n00D4F6E8FA6EECAD2A3AA415EEC418D38EC:2\r\n")
	}))
	defer srv.Close()

	checker, _ := NewBreachChecker(BreachConfig{BaseURL: srv.URL}, srv.Client())

	res, err := checker.Check(context.Background(), "genuinely-unique-passphrase-8Q!")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Known || res.Breached {
		t.Fatalf("expected known+clean, got %+v", res)
	}
}

func TestBreachCheckDegradesOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker, _ := NewBreachChecker(BreachConfig{BaseURL: srv.URL}, srv.Client())

	res, err := checker.Check(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("expected degraded nil error, got %v", err)
	}
	if res.Known {
		t.Fatalf("degraded result must be unknown, got %+v", res)
	}
}

func TestBreachCheckStrictFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker, _ := NewBreachChecker(BreachConfig{BaseURL: srv.URL, Strict: true}, srv.Client())

	_, err := checker.Check(context.Background(), "whatever")
	if !errors.Is(err, ErrBreachLookupFailed) {
		t.Fatalf("expected ErrBreachLookupFailed, got %v", err)
	}
}

func TestBreachCheckTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	checker, _ := NewBreachChecker(BreachConfig{
		BaseURL: srv.URL,
		Timeout: 20 * time.Millisecond,
		Strict:  true,
	}, &http.Client{})

	start := time.Now()
	_, err := checker.Check(context.Background(), "whatever")
	if !errors.Is(err, ErrBreachLookupFailed) {
		t.Fatalf("expected ErrBreachLookupFailed, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
}
