package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrBreachLookupFailed is returned in strict mode when the range service
// cannot be reached or answers with an unexpected status.
var ErrBreachLookupFailed = errors.New("breach lookup failed")

const breachPrefixLen = 5

// BreachConfig tunes the k-anonymity range lookup.
type BreachConfig struct {
	// BaseURL of the range endpoint. The request path is BaseURL + "/" +
	// the first five hex characters of the password's SHA-1 digest. Nothing
	// else about the password ever leaves the process.
	BaseURL string
	Timeout time.Duration
	// Strict makes lookup failures hard errors instead of degrading to an
	// unknown result.
	Strict bool
}

// BreachResult is returned by [BreachChecker.Check]. Known is false when the
// range service was unavailable and the policy degraded to "unknown".
type BreachResult struct {
	Known    bool
	Breached bool
	Count    int
}

// BreachChecker queries a have-i-been-pwned style range API using the
// k-anonymity scheme: only a 5-character digest prefix is transmitted and the
// suffix comparison happens locally.
type BreachChecker struct {
	config BreachConfig
	client *http.Client
}

// DefaultBreachConfig points at the public Pwned Passwords range API with
// lenient failure handling.
func DefaultBreachConfig() BreachConfig {
	return BreachConfig{
		BaseURL: "https://api.pwnedpasswords.com/range",
		Timeout: 3 * time.Second,
	}
}

// NewBreachChecker builds a checker. client may be nil, in which case a
// dedicated client with the configured timeout is used.
func NewBreachChecker(cfg BreachConfig, client *http.Client) (*BreachChecker, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("breach base URL required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &BreachChecker{
		config: cfg,
		client: client,
	}, nil
}

// Check reports whether password appears in the breach corpus. The lookup is
// bounded by the configured timeout; on failure it degrades to
// {Known: false} unless strict mode is enabled.
func (c *BreachChecker) Check(ctx context.Context, password string) (BreachResult, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:breachPrefixLen], digest[breachPrefixLen:]

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.config.BaseURL, "/")+"/"+prefix, nil)
	if err != nil {
		return c.degrade(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.degrade(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.degrade(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, countStr, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(candidate, suffix) {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			count = 1
		}
		return BreachResult{Known: true, Breached: true, Count: count}, nil
	}
	if err := scanner.Err(); err != nil {
		return c.degrade(err)
	}

	return BreachResult{Known: true}, nil
}

func (c *BreachChecker) degrade(cause error) (BreachResult, error) {
	if c.config.Strict {
		return BreachResult{}, fmt.Errorf("%w: %v", ErrBreachLookupFailed, cause)
	}
	return BreachResult{}, nil
}
