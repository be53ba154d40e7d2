// Package beacon is a minimal drand HTTP client: chain info, current round,
// and round signatures. The engine itself never performs network I/O; this
// client exists for callers (like cmd/timelock) that need to fetch the
// signature unlocking a round.
package beacon

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Quicknet chain constants. The chain hash pins the beacon identity; the
// public key is the long-term network key ciphertexts are sealed under.
const (
	QuicknetChainHash = "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971"
	QuicknetBaseURL   = "https://api.drand.sh/" + QuicknetChainHash

	QuicknetPublicKeyHex = "83cf0f2896adee7eb8b5f01fcad3912212c437e0073e911fb90022d3e760183c" +
		"8c4b450b6a0a6c3ac6a5776a2d1064510d1fec758c921cc22b0e17e63aaf4bcb" +
		"5ed66304de9cf809bd274ca73bab4af5a6e9c76a4bc09e76eae8991ef5ece45a"
)

// ErrRoundNotAvailable is returned when the requested round has not been
// produced yet (or the endpoint does not know it).
var ErrRoundNotAvailable = errors.New("beacon: round not available")

// HTTPDoer is the HTTP client surface the beacon client needs. It allows
// injecting mock HTTP clients for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to a single drand chain over its HTTP API.
type Client struct {
	BaseURL string
	HTTP    HTTPDoer

	info *Info // cached chain info
}

// NewQuicknetClient returns a client for the quicknet chain. A nil doer
// falls back to http.DefaultClient.
func NewQuicknetClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{BaseURL: QuicknetBaseURL, HTTP: doer}
}

// Info describes the chain parameters relevant to round arithmetic.
type Info struct {
	Period      int    `json:"period"`
	GenesisTime int64  `json:"genesis_time"`
	Hash        string `json:"hash"`
	SchemeID    string `json:"schemeID"`
	BeaconID    string `json:"beaconID"`
}

type publicResponse struct {
	Round     uint64 `json:"round"`
	Signature string `json:"signature"`
}

// FetchInfo returns the chain info, fetching it once and caching it for the
// client's lifetime.
func (c *Client) FetchInfo(ctx context.Context) (*Info, error) {
	if c.info != nil {
		return c.info, nil
	}

	var info Info
	if err := c.getJSON(ctx, c.BaseURL+"/info", &info); err != nil {
		return nil, fmt.Errorf("beacon: fetching chain info: %w", err)
	}

	c.info = &info
	return &info, nil
}

// LatestRound returns the most recent round the chain has produced.
func (c *Client) LatestRound(ctx context.Context) (uint64, error) {
	var resp publicResponse
	if err := c.getJSON(ctx, c.BaseURL+"/public/latest", &resp); err != nil {
		return 0, fmt.Errorf("beacon: fetching latest round: %w", err)
	}
	return resp.Round, nil
}

// Signature fetches the signature for a specific round, hex encoded as it
// crosses the engine boundary. Rounds still in the future yield
// ErrRoundNotAvailable.
func (c *Client) Signature(ctx context.Context, round uint64) (string, error) {
	url := c.BaseURL + "/public/" + strconv.FormatUint(round, 10)

	var resp publicResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return "", fmt.Errorf("%w: round %d", ErrRoundNotAvailable, round)
		}
		return "", fmt.Errorf("beacon: fetching round %d: %w", round, err)
	}

	if _, err := hex.DecodeString(resp.Signature); err != nil || resp.Signature == "" {
		return "", fmt.Errorf("beacon: round %d returned a malformed signature", round)
	}
	return resp.Signature, nil
}

// RoundAt returns the first round whose emission time is at or after t.
func (c *Client) RoundAt(ctx context.Context, t time.Time) (uint64, error) {
	info, err := c.FetchInfo(ctx)
	if err != nil {
		return 0, err
	}
	if info.Period <= 0 {
		return 0, fmt.Errorf("beacon: chain reports invalid period %d", info.Period)
	}

	elapsed := t.Unix() - info.GenesisTime
	if elapsed < 0 {
		return 0, errors.New("beacon: time is before chain genesis")
	}

	round := uint64(elapsed) / uint64(info.Period)
	// Round up so the returned round is not emitted before t.
	if uint64(elapsed)%uint64(info.Period) != 0 {
		round++
	}
	return round, nil
}

var errNotFound = errors.New("not found")

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
