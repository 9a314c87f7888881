package walletkit

import (
	"fmt"
	"math/big"
)

const (
	derSequenceTag = 0x30
	derIntegerTag  = 0x02
)

// parseDERSignature strictly decodes a DER-encoded ECDSA signature into its
// r and s components. Platform authenticators produce DER; the on-chain
// verifier expects fixed 32-byte words, so anything this parser accepts must
// round-trip exactly.
//
// The encoding rules are enforced in full: the SEQUENCE length must match the
// remaining bytes, each INTEGER carries 1 to 33 content bytes, a leading zero
// is permitted only to clear the high bit, r and s must lie in (0, order),
// and trailing bytes after the second INTEGER are a hard error. Any violation
// fails with ErrInvalidSignatureEncoding; nothing is silently coerced.
func parseDERSignature(der []byte, order *big.Int) (r, s *big.Int, err error) {
	if len(der) < 8 {
		return nil, nil, fmt.Errorf("%w: %d bytes is too short", ErrInvalidSignatureEncoding, len(der))
	}
	if der[0] != derSequenceTag {
		return nil, nil, fmt.Errorf("%w: expected SEQUENCE tag 0x30, got 0x%02x", ErrInvalidSignatureEncoding, der[0])
	}
	// A signature over a <=264-bit curve never needs long-form lengths, so
	// the second byte must equal the byte count of the rest exactly.
	if int(der[1]) != len(der)-2 {
		return nil, nil, fmt.Errorf("%w: SEQUENCE length %d does not match %d remaining bytes",
			ErrInvalidSignatureEncoding, der[1], len(der)-2)
	}

	r, rest, err := parseDERInteger(der[2:], order)
	if err != nil {
		return nil, nil, err
	}
	s, rest, err = parseDERInteger(rest, order)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes after signature", ErrInvalidSignatureEncoding, len(rest))
	}
	return r, s, nil
}

// parseDERInteger consumes one INTEGER from the front of buf and returns the
// remainder.
func parseDERInteger(buf []byte, order *big.Int) (*big.Int, []byte, error) {
	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated INTEGER", ErrInvalidSignatureEncoding)
	}
	if buf[0] != derIntegerTag {
		return nil, nil, fmt.Errorf("%w: expected INTEGER tag 0x02, got 0x%02x", ErrInvalidSignatureEncoding, buf[0])
	}
	n := int(buf[1])
	if n < 1 || n > 33 {
		return nil, nil, fmt.Errorf("%w: INTEGER length %d out of range", ErrInvalidSignatureEncoding, n)
	}
	if len(buf) < 2+n {
		return nil, nil, fmt.Errorf("%w: INTEGER length %d exceeds %d remaining bytes",
			ErrInvalidSignatureEncoding, n, len(buf)-2)
	}
	content := buf[2 : 2+n]

	// DER integers are signed two's complement. A set high bit without a
	// leading zero would make the value negative; a leading zero that does
	// not clear a high bit is non-minimal padding.
	if content[0]&0x80 != 0 {
		return nil, nil, fmt.Errorf("%w: negative INTEGER", ErrInvalidSignatureEncoding)
	}
	if n > 1 && content[0] == 0x00 && content[1]&0x80 == 0 {
		return nil, nil, fmt.Errorf("%w: non-minimal INTEGER padding", ErrInvalidSignatureEncoding)
	}

	v := new(big.Int).SetBytes(content)
	if v.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: zero INTEGER component", ErrInvalidSignatureEncoding)
	}
	if v.Cmp(order) >= 0 {
		return nil, nil, fmt.Errorf("%w: INTEGER component exceeds curve order", ErrInvalidSignatureEncoding)
	}
	return v, buf[2+n:], nil
}

// normalizeS canonicalizes s to the low form expected by on-chain
// verification: s' = order - s whenever s > order/2.
func normalizeS(s, order *big.Int) *big.Int {
	half := new(big.Int).Rsh(order, 1)
	if s.Cmp(half) > 0 {
		return new(big.Int).Sub(order, s)
	}
	return new(big.Int).Set(s)
}

// encodeRS packs r and s into the fixed 64-byte r||s layout.
func encodeRS(r, s *big.Int) []byte {
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}
