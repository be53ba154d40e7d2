package timelock

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"timelock/internal/testutil"
)

// Production quicknet values: the chain public key and the published
// signature for round 1000, fetched from
// api.drand.sh/52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971/public/1000.
const (
	quicknetPublicKeyHex = "83cf0f2896adee7eb8b5f01fcad3912212c437e0073e911fb90022d3e760183c" +
		"8c4b450b6a0a6c3ac6a5776a2d1064510d1fec758c921cc22b0e17e63aaf4bcb" +
		"5ed66304de9cf809bd274ca73bab4af5a6e9c76a4bc09e76eae8991ef5ece45a"
	quicknetRound1000SignatureHex = "b44679b9a59af2ec876b1a6b1ad52ea9b1615fc3982b19576350f93447cb1125" +
		"e342b73a8dd2bacbe47e4b6b63ed5e39"
)

func fixedSecretKey() []byte {
	key := make([]byte, SecretKeySize)
	for i := range key {
		key[i] = byte(i + 1) // 0x01..0x20
	}
	return key
}

func mustIdentity(t *testing.T, l *Library, round uint64) []byte {
	t.Helper()
	id := make([]byte, IdentitySize)
	if _, err := l.CreateIdentity(round, id); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	return id
}

func TestQuicknetKnownRoundTrip(t *testing.T) {
	l := New()
	defer l.Close()

	message := []byte("sealed until round 1000")
	identity := mustIdentity(t, l, 1000)

	h, err := l.Encrypt(message, identity, quicknetPublicKeyHex, fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	defer l.FreeCiphertext(h)

	ctLen, err := l.CiphertextLen(h)
	if err != nil {
		t.Fatalf("CiphertextLen failed: %v", err)
	}
	if ctLen != len(message)+CiphertextOverhead {
		t.Errorf("ciphertext length %d, want plaintext length plus fixed overhead %d", ctLen, len(message)+CiphertextOverhead)
	}

	out := make([]byte, len(message))
	n, err := l.Decrypt(h, quicknetRound1000SignatureHex, out)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(out[:n], message) {
		t.Errorf("decrypted %q, want %q", out[:n], message)
	}
}

func TestEncryptDecryptWithFakeBeacon(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 42)
	message := []byte("sealed until round 42")

	secretKey, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey failed: %v", err)
	}

	h, err := l.Encrypt(message, identity, beacon.PublicKeyHex(), secretKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	out := make([]byte, len(message))
	n, err := l.Decrypt(h, beacon.SignatureHex(42), out)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(out[:n], message) {
		t.Errorf("decrypted %q, want %q", out[:n], message)
	}
}

func TestDecryptWithWrongRoundSignature(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 1000)

	h, err := l.Encrypt([]byte("for round 1000"), identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	out := make([]byte, 64)
	_, err = l.Decrypt(h, beacon.SignatureHex(1001), out)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
	if l.LastError() == "" {
		t.Error("LastError should report the failure")
	}
}

func TestEstimateCiphertextSizeIsExact(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 7)

	for _, n := range []int{0, 1, 16, 100, 4096} {
		msg := bytes.Repeat([]byte{0x77}, n)
		secretKey, err := GenerateSecretKey()
		if err != nil {
			t.Fatalf("GenerateSecretKey failed: %v", err)
		}

		h, err := l.Encrypt(msg, identity, beacon.PublicKeyHex(), secretKey)
		if err != nil {
			t.Fatalf("Encrypt %d bytes failed: %v", n, err)
		}

		raw, err := l.CiphertextBytes(h)
		if err != nil {
			t.Fatalf("CiphertextBytes failed: %v", err)
		}
		if len(raw) != EstimateCiphertextSize(n) {
			t.Errorf("EstimateCiphertextSize(%d) = %d, actual ciphertext is %d bytes", n, EstimateCiphertextSize(n), len(raw))
		}

		if err := l.FreeCiphertext(h); err != nil {
			t.Fatalf("FreeCiphertext failed: %v", err)
		}
	}
}

func TestEncryptionIsProbabilistic(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 5)
	message := []byte("same message, same key, different bytes")

	// Same seed on purpose: freshness must come from the scheme's own
	// randomness, not only from the caller's seed.
	h1, err := l.Encrypt(message, identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	h2, err := l.Encrypt(message, identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw1, err := l.CiphertextBytes(h1)
	if err != nil {
		t.Fatalf("CiphertextBytes failed: %v", err)
	}
	raw2, err := l.CiphertextBytes(h2)
	if err != nil {
		t.Fatalf("CiphertextBytes failed: %v", err)
	}

	if bytes.Equal(raw1, raw2) {
		t.Error("two encryptions produced identical ciphertext bytes")
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 12)
	message := []byte("travels as bytes")

	h, err := l.Encrypt(message, identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw, err := l.CiphertextBytes(h)
	if err != nil {
		t.Fatalf("CiphertextBytes failed: %v", err)
	}

	// A second instance receives the serialized form.
	receiver := New()
	defer receiver.Close()

	h2, err := receiver.ImportCiphertext(raw)
	if err != nil {
		t.Fatalf("ImportCiphertext failed: %v", err)
	}

	out := make([]byte, len(message))
	n, err := receiver.Decrypt(h2, beacon.SignatureHex(12), out)
	if err != nil {
		t.Fatalf("Decrypt after import failed: %v", err)
	}
	if !bytes.Equal(out[:n], message) {
		t.Errorf("decrypted %q, want %q", out[:n], message)
	}
}

func TestImportRejectsTruncatedCiphertext(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 9)

	h, err := l.Encrypt([]byte("will be truncated"), identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	raw, err := l.CiphertextBytes(h)
	if err != nil {
		t.Fatalf("CiphertextBytes failed: %v", err)
	}

	if _, err := l.ImportCiphertext(raw[:len(raw)-1]); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext for truncated input, got %v", err)
	}
}

func TestDecryptBufferTooSmall(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 3)
	message := []byte("needs twenty-three bytes")

	h, err := l.Encrypt(message, identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	short := make([]byte, 4)
	need, err := l.Decrypt(h, beacon.SignatureHex(3), short)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
	if need != len(message) {
		t.Errorf("required length = %d, want %d", need, len(message))
	}

	// Resize and retry.
	out := make([]byte, need)
	n, err := l.Decrypt(h, beacon.SignatureHex(3), out)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !bytes.Equal(out[:n], message) {
		t.Errorf("decrypted %q, want %q", out[:n], message)
	}
}

func TestCreateIdentity(t *testing.T) {
	l := New()
	defer l.Close()

	id1 := mustIdentity(t, l, 1000)
	id2 := mustIdentity(t, l, 1000)
	id3 := mustIdentity(t, l, 1001)

	if !bytes.Equal(id1, id2) {
		t.Error("identical rounds must yield identical identities")
	}
	if bytes.Equal(id1, id3) {
		t.Error("distinct rounds must yield distinct identities")
	}

	short := make([]byte, IdentitySize-1)
	if _, err := l.CreateIdentity(1000, short); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestEncryptRejectsBadInputs(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 1)

	cases := []struct {
		name     string
		identity []byte
		pkHex    string
		seed     []byte
		wantErr  error
	}{
		{"short identity", identity[:16], beacon.PublicKeyHex(), fixedSecretKey(), ErrInvalidInput},
		{"short seed", identity, beacon.PublicKeyHex(), make([]byte, 16), ErrInvalidInput},
		{"non-hex public key", identity, strings.Repeat("zz", PublicKeySize), fixedSecretKey(), ErrInvalidPublicKey},
		{"short public key", identity, "deadbeef", fixedSecretKey(), ErrInvalidPublicKey},
		{"off-curve public key", identity, strings.Repeat("ff", PublicKeySize), fixedSecretKey(), ErrInvalidPublicKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Encrypt([]byte("msg"), tc.identity, tc.pkHex, tc.seed)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDecryptRejectsBadSignatures(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 2)

	h, err := l.Encrypt([]byte("message"), identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	out := make([]byte, 64)

	cases := []struct {
		name   string
		sigHex string
	}{
		{"non-hex", strings.Repeat("zz", SignatureSize)},
		{"short", "deadbeef"},
		{"off-curve", strings.Repeat("ff", SignatureSize)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Decrypt(h, tc.sigHex, out); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestFreeCiphertextExactlyOnce(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 6)

	h, err := l.Encrypt([]byte("free me"), identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if err := l.FreeCiphertext(h); err != nil {
		t.Fatalf("first free failed: %v", err)
	}
	if err := l.FreeCiphertext(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("double free: expected ErrInvalidHandle, got %v", err)
	}

	// The freed handle is unusable everywhere.
	if _, err := l.CiphertextBytes(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}

	var zero Handle
	if err := l.FreeCiphertext(zero); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("zero handle: expected ErrInvalidHandle, got %v", err)
	}
}

func TestClosedLibraryRejectsAllCalls(t *testing.T) {
	l := New()

	beacon := testutil.NewFakeBeacon()
	identity := mustIdentity(t, l, 8)

	h, err := l.Encrypt([]byte("held across close"), identity, beacon.PublicKeyHex(), fixedSecretKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := l.CreateIdentity(8, make([]byte, IdentitySize)); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateIdentity after Close: expected ErrClosed, got %v", err)
	}
	if _, err := l.Encrypt([]byte("m"), identity, beacon.PublicKeyHex(), fixedSecretKey()); !errors.Is(err, ErrClosed) {
		t.Errorf("Encrypt after Close: expected ErrClosed, got %v", err)
	}
	if _, err := l.CiphertextBytes(h); !errors.Is(err, ErrClosed) {
		t.Errorf("CiphertextBytes after Close: expected ErrClosed, got %v", err)
	}
	if err := l.FreeCiphertext(h); !errors.Is(err, ErrClosed) {
		t.Errorf("FreeCiphertext after Close: expected ErrClosed, got %v", err)
	}

	// A fresh instance works after the old one is gone.
	l2 := New()
	defer l2.Close()
	if _, err := l2.CreateIdentity(8, make([]byte, IdentitySize)); err != nil {
		t.Errorf("fresh instance failed: %v", err)
	}
}

func TestLastErrorTracksMostRecentFailure(t *testing.T) {
	l := New()
	defer l.Close()

	if l.LastError() != "" {
		t.Errorf("fresh instance should have no last error, got %q", l.LastError())
	}

	if _, err := l.CreateIdentity(1, make([]byte, 4)); err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(l.LastError(), "buffer too small") {
		t.Errorf("unexpected last error %q", l.LastError())
	}

	if _, err := l.CreateIdentity(1, make([]byte, IdentitySize)); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	if l.LastError() != "" {
		t.Errorf("success should clear the last error, got %q", l.LastError())
	}
}

func TestVersion(t *testing.T) {
	l := New()
	defer l.Close()

	if l.Version() == "" {
		t.Error("version must not be empty")
	}
	if l.Version() != Version {
		t.Errorf("method version %q differs from package version %q", l.Version(), Version)
	}
}

func TestConcurrentUse(t *testing.T) {
	l := New()
	defer l.Close()

	beacon := testutil.NewFakeBeacon()
	pkHex := beacon.PublicKeyHex()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(round uint64) {
			defer wg.Done()

			identity := make([]byte, IdentitySize)
			if _, err := l.CreateIdentity(round, identity); err != nil {
				t.Errorf("CreateIdentity(%d) failed: %v", round, err)
				return
			}

			message := []byte("concurrent message")
			secretKey, err := GenerateSecretKey()
			if err != nil {
				t.Errorf("GenerateSecretKey failed: %v", err)
				return
			}

			h, err := l.Encrypt(message, identity, pkHex, secretKey)
			if err != nil {
				t.Errorf("Encrypt(%d) failed: %v", round, err)
				return
			}

			out := make([]byte, len(message))
			n, err := l.Decrypt(h, beacon.SignatureHex(round), out)
			if err != nil {
				t.Errorf("Decrypt(%d) failed: %v", round, err)
				return
			}
			if !bytes.Equal(out[:n], message) {
				t.Errorf("round %d: plaintext mismatch", round)
			}

			if err := l.FreeCiphertext(h); err != nil {
				t.Errorf("FreeCiphertext(%d) failed: %v", round, err)
			}
		}(uint64(i + 100))
	}
	wg.Wait()
}
