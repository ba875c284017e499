package identity

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SignatureLength is the well-formed recoverable ECDSA signature size:
// 32-byte r, 32-byte s, 1-byte recovery id.
const SignatureLength = 65

// ErrMalformedSignature is returned when no normalizer variant can produce
// a well-formed signature from the wallet's response.
var ErrMalformedSignature = errors.New("malformed signature: no normalizer applies")

// normalizer is one heuristic for recovering a well-formed signature from
// a wallet response. It returns the normalized bytes, or ok=false when the
// heuristic does not apply to this input.
type normalizer struct {
	name  string
	apply func(sig []byte) ([]byte, bool)
}

// normalizers run in fixed priority order. Some contract wallets wrap the
// recoverable signature in a longer envelope; the suffix and middle
// extractions are explicitly documented best-effort heuristics observed to
// recover usable signatures from those encodings.
var normalizers = []normalizer{
	{name: "standard-ecdsa", apply: standardECDSA},
	{name: "extract-from-suffix", apply: extractFromSuffix},
	{name: "extract-from-middle", apply: extractFromMiddle},
}

// NormalizeSignature coerces a wallet signature into the standard 65-byte
// form, trying each heuristic in priority order and exhausting the list
// before failing. Inputs that already have the standard length pass
// through untouched; anything else is logged as a deviation.
func NormalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		logrus.WithFields(logrus.Fields{
			"length":   len(sig),
			"expected": SignatureLength,
		}).Warn("signature length deviates from standard encoding")
	}

	for _, n := range normalizers {
		if out, ok := n.apply(sig); ok {
			if n.name != "standard-ecdsa" {
				logrus.WithField("normalizer", n.name).Info("recovered signature via extraction heuristic")
			}
			return out, nil
		}
	}

	return nil, fmt.Errorf("%w (length %d)", ErrMalformedSignature, len(sig))
}

func standardECDSA(sig []byte) ([]byte, bool) {
	if len(sig) != SignatureLength {
		return nil, false
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	return out, true
}

// extractFromSuffix takes the trailing 65 bytes of an oversized response.
// Matches wallets that prepend envelope metadata before the signature.
func extractFromSuffix(sig []byte) ([]byte, bool) {
	if len(sig) <= SignatureLength {
		return nil, false
	}
	out := make([]byte, SignatureLength)
	copy(out, sig[len(sig)-SignatureLength:])
	return out, true
}

// extractFromMiddle takes a centered 65-byte window of an oversized
// response. Matches wallets that both prepend and append framing bytes.
func extractFromMiddle(sig []byte) ([]byte, bool) {
	if len(sig) <= SignatureLength {
		return nil, false
	}
	start := (len(sig) - SignatureLength) / 2
	out := make([]byte, SignatureLength)
	copy(out, sig[start:start+SignatureLength])
	return out, true
}
