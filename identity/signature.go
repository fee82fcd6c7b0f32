// Package identity resolves the origin account of a relayed call from a
// secp256k1 signature over the request.
//
// A request is signed over SHA256(hex(SHA256(payload)) + timestamp + audience).
// The verifier recovers the public key from the 65-byte compact signature and
// derives the bech32 account from it, so no key registry is needed. Each
// accepted request is claimed in a ReplayCache until its timestamp falls
// outside the skew window, after which the skew check rejects it.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ineyio/quotarelay"
)

// DefaultMaxSkew is the accepted distance between a request timestamp and now.
const DefaultMaxSkew = 5 * time.Minute

// SignedRequest is a payload together with the caller's claimed account and
// a signature proving it.
type SignedRequest struct {
	Account   quotarelay.Account `json:"account"`
	Payload   []byte             `json:"payload"`
	Timestamp int64              `json:"timestamp"` // unix nanoseconds
	Signature string             `json:"signature"` // base64 compact signature
}

func digest(payload []byte, tsNanos int64, audience string) [32]byte {
	bodyHash := sha256.Sum256(payload)
	message := hex.EncodeToString(bodyHash[:]) + strconv.FormatInt(tsNanos, 10) + audience
	return sha256.Sum256([]byte(message))
}

// Signer signs requests on the client side.
type Signer struct {
	key      *secp256k1.PrivateKey
	account  quotarelay.Account
	audience string
	now      func() time.Time
}

// NewSigner creates a Signer for key. prefix and audience must match the
// relay's Verifier.
func NewSigner(key *secp256k1.PrivateKey, prefix, audience string) (*Signer, error) {
	account, err := AccountOf(key.PubKey(), prefix)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, account: account, audience: audience, now: time.Now}, nil
}

// Account returns the account requests from this signer resolve to.
func (s *Signer) Account() quotarelay.Account { return s.account }

// Sign signs payload at the current time.
func (s *Signer) Sign(payload []byte) SignedRequest {
	return s.SignAt(payload, s.now())
}

// SignAt signs payload at the given time.
func (s *Signer) SignAt(payload []byte, at time.Time) SignedRequest {
	ts := at.UnixNano()
	d := digest(payload, ts, s.audience)
	// RFC6979 deterministic, low-S.
	sig := ecdsa.SignCompact(s.key, d[:], true)
	return SignedRequest{
		Account:   s.account,
		Payload:   payload,
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
}

// Verifier authenticates SignedRequests on the relay side.
type Verifier struct {
	prefix   string
	audience string
	maxSkew  time.Duration
	replay   ReplayCache
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxSkew rejects requests whose timestamp is further than d from now
// (default DefaultMaxSkew). d must be positive.
func WithMaxSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxSkew = d }
}

// WithReplayCache sets where accepted requests are remembered
// (default a MemoryReplayCache). Relays sharing a ledger should share it too.
func WithReplayCache(c ReplayCache) VerifierOption {
	return func(v *Verifier) { v.replay = c }
}

// WithAudience binds accepted signatures to this relay's identity.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

// withNow is used in tests for deterministic clocks.
func withNow(fn func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = fn }
}

// NewVerifier creates a Verifier for accounts with the given bech32 prefix.
// A non-positive skew is a configuration error.
func NewVerifier(prefix string, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{prefix: prefix, maxSkew: DefaultMaxSkew, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.maxSkew <= 0 {
		return nil, fmt.Errorf("%w: identity: max skew must be positive", quotarelay.ErrConfiguration)
	}
	if v.replay == nil {
		v.replay = NewMemoryReplayCache()
	}
	return v, nil
}

// Authenticate returns the account that signed req. Rejected requests wrap
// quotarelay.ErrNotAuthenticated; a failing replay cache wraps
// quotarelay.ErrStorageFailure.
func (v *Verifier) Authenticate(ctx context.Context, req SignedRequest) (quotarelay.Account, error) {
	signedAt := time.Unix(0, req.Timestamp)
	skew := v.now().Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return "", fmt.Errorf("%w: timestamp outside allowed skew (%s)", quotarelay.ErrNotAuthenticated, skew)
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: signature encoding: %w", quotarelay.ErrNotAuthenticated, err)
	}

	d := digest(req.Payload, req.Timestamp, v.audience)
	pub, _, err := ecdsa.RecoverCompact(sig, d[:])
	if err != nil {
		return "", fmt.Errorf("%w: %w", quotarelay.ErrNotAuthenticated, err)
	}

	account, err := AccountOf(pub, v.prefix)
	if err != nil {
		return "", fmt.Errorf("%w: %w", quotarelay.ErrNotAuthenticated, err)
	}
	if account != req.Account {
		return "", fmt.Errorf("%w: signature does not match account %q", quotarelay.ErrNotAuthenticated, req.Account)
	}

	// Keyed on the signed digest, not the signature bytes: the compact
	// header can be altered without changing the recovered account.
	fresh, err := v.replay.Claim(ctx, string(account)+":"+hex.EncodeToString(d[:]), signedAt.Add(v.maxSkew))
	if err != nil {
		return "", fmt.Errorf("%w: replay cache: %w", quotarelay.ErrStorageFailure, err)
	}
	if !fresh {
		return "", fmt.Errorf("%w: request already seen", quotarelay.ErrNotAuthenticated)
	}
	return account, nil
}
