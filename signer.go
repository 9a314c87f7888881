package walletkit

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	MessagePrefix = "\x19Ethereum Signed Message:\n"
)

// Signer produces signatures over user-operation digests. Exactly one
// concrete signer is selected when the wallet session is created; no code
// branches on signer kind per call.
type Signer interface {
	// Address reports the owner identity the smart account is derived from.
	Address() common.Address

	// SignDigest signs a 32-byte digest. Signing failures (rejection,
	// authenticator timeout) surface immediately and are never retried.
	SignDigest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// KeySigner signs with a secp256k1 key held by an external provider, the
// path used when a plain EOA wallet is connected.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, ErrSignerUnavailable
	}
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

// SignDigest signs the EIP-191 prefixed digest and returns the 65-byte
// r||s||v signature with v in {27, 28}.
func (s *KeySigner) SignDigest(ctx context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(prefixedHash(digest.Bytes()).Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// prefixedHash hashes a message with the EIP-191 personal-message prefix.
func prefixedHash(message []byte) common.Hash {
	prefixed := fmt.Sprintf("%s%d", MessagePrefix, len(message))
	return crypto.Keccak256Hash(append([]byte(prefixed), message...))
}

// PlatformCredential is the opaque capability exposed by a biometric or
// WebAuthn-style authenticator: sign a challenge, report the registered
// public key. The credential store behind it is outside this package.
type PlatformCredential interface {
	// PublicKey returns the fixed P-256 public key registered at setup.
	PublicKey() (x, y *big.Int)

	// Sign produces a DER-encoded ECDSA signature over the digest. It should
	// return ErrUserRejected or ErrSignerTimeout when the user declines or
	// the authenticator gives up.
	Sign(ctx context.Context, digest common.Hash) ([]byte, error)
}

// CredentialSigner adapts a platform credential to the Signer interface.
// The authenticator's DER output is strictly parsed and low-s normalized
// before use.
type CredentialSigner struct {
	cred PlatformCredential
	x, y *big.Int
	addr common.Address
}

func NewCredentialSigner(cred PlatformCredential) (*CredentialSigner, error) {
	if cred == nil {
		return nil, ErrSignerUnavailable
	}
	x, y := cred.PublicKey()
	if x == nil || y == nil {
		return nil, ErrSignerUnavailable
	}
	return &CredentialSigner{cred: cred, x: x, y: y, addr: credentialAddress(x, y)}, nil
}

func (s *CredentialSigner) Address() common.Address { return s.addr }

// PublicKey reports the credential's registered key pair.
func (s *CredentialSigner) PublicKey() (x, y *big.Int) { return s.x, s.y }

// SignDigest asks the authenticator for a DER signature and converts it to
// the canonical 64-byte r||s form.
func (s *CredentialSigner) SignDigest(ctx context.Context, digest common.Hash) ([]byte, error) {
	der, err := s.cred.Sign(ctx, digest)
	if err != nil {
		return nil, err
	}
	order := elliptic.P256().Params().N
	r, sv, err := parseDERSignature(der, order)
	if err != nil {
		return nil, err
	}
	return encodeRS(r, normalizeS(sv, order)), nil
}

// credentialAddress derives a stable owner identity from the credential's
// public key, mirroring the keccak address derivation used for EOA keys.
func credentialAddress(x, y *big.Int) common.Address {
	buf := make([]byte, 64)
	x.FillBytes(buf[:32])
	y.FillBytes(buf[32:])
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}
