// Package testutil provides shared test fakes: an in-process beacon that can
// sign identities the way drand quicknet does, and a fake HTTP client with
// canned beacon responses.
package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/drand/kyber/util/random"
)

// FakeBeacon holds a freshly generated beacon keypair. Its public key plays
// the network public key role and Sign produces valid identity secrets, so
// the full encrypt/decrypt path can run without the real network.
type FakeBeacon struct {
	Suite     pairing.Suite
	PublicKey kyber.Point

	msk kyber.Scalar
}

// NewFakeBeacon generates a random master secret and the matching G2 public
// key.
func NewFakeBeacon() *FakeBeacon {
	suite := bls.NewBLS12381Suite()
	msk := suite.G1().Scalar().Pick(random.New())
	return &FakeBeacon{
		Suite:     suite,
		PublicKey: suite.G2().Point().Mul(msk, nil),
		msk:       msk,
	}
}

// Sign returns the identity secret msk * H1(identity) in G1, exactly what
// the beacon network would publish for that identity's round.
func (f *FakeBeacon) Sign(identity []byte) kyber.Point {
	qID := f.Suite.G1().Point().(kyber.HashablePoint).Hash(identity)
	return f.Suite.G1().Point().Mul(f.msk, qID)
}

// SignRound signs the canonical round identity sha256(be64(round)).
func (f *FakeBeacon) SignRound(round uint64) kyber.Point {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	id := sha256.Sum256(buf[:])
	return f.Sign(id[:])
}

// PublicKeyHex returns the compressed public key as the boundary expects it.
func (f *FakeBeacon) PublicKeyHex() string {
	return pointHex(f.PublicKey)
}

// SignatureHex returns the compressed signature for a round, hex encoded.
func (f *FakeBeacon) SignatureHex(round uint64) string {
	return pointHex(f.SignRound(round))
}

func pointHex(p kyber.Point) string {
	buf, err := p.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// FakeHTTPDoer is a mock HTTP client for testing.
type FakeHTTPDoer struct {
	// Responses maps URL path suffixes to responses
	Responses map[string]*http.Response
	// Errors maps URL path suffixes to errors
	Errors map[string]error
}

func (f *FakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	for suffix, err := range f.Errors {
		if strings.HasSuffix(path, suffix) {
			return nil, err
		}
	}
	for suffix, resp := range f.Responses {
		if strings.HasSuffix(path, suffix) {
			return CloneResponse(resp), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

// CloneResponse creates a copy of an http.Response with a fresh body reader,
// so a canned response can be served more than once.
func CloneResponse(resp *http.Response) *http.Response {
	bodyBytes, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(bodyBytes)),
	}
}

// MakeInfoResponse creates a fake drand /info response with quicknet-shaped
// parameters and a fixed genesis time for deterministic tests.
func MakeInfoResponse() *http.Response {
	info := struct {
		Period      int    `json:"period"`
		GenesisTime int64  `json:"genesis_time"`
		Hash        string `json:"hash"`
		SchemeID    string `json:"schemeID"`
		BeaconID    string `json:"beaconID"`
	}{
		Period:      3,
		GenesisTime: 1677685200,
		Hash:        "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971",
		SchemeID:    "bls-unchained-g1-rfc9380",
		BeaconID:    "quicknet",
	}
	body, _ := json.Marshal(info)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// MakePublicResponse creates a fake drand /public/<round> (or /public/latest)
// response carrying the given signature.
func MakePublicResponse(round uint64, signatureHex string) *http.Response {
	resp := struct {
		Round     uint64 `json:"round"`
		Signature string `json:"signature"`
	}{
		Round:     round,
		Signature: signatureHex,
	}
	body, _ := json.Marshal(resp)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// FormatRoundURL converts a round number to a URL path component.
func FormatRoundURL(round uint64) string {
	return "/public/" + strconv.FormatUint(round, 10)
}
