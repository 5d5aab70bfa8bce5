package engine

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNoSecretKey is returned when a Signer is constructed without a key.
// Unsigned operation would defeat the PII-safety guarantee, so this is a
// hard configuration error.
var ErrNoSecretKey = errors.New("engine: secret key is required")

// Signer turns sensitive values into stable, irreversible signatures using
// HMAC-SHA256 over a canonical serialization. Stateless and pure: the same
// (key, value) pair always yields the same signature.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. Fails fast when the key is empty.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrNoSecretKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Sign returns the hex HMAC of the canonical form of v. Map keys are sorted
// and numbers normalized so semantically identical values always hash
// identically regardless of field order.
func (s *Signer) Sign(v any) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonicalBytes(v))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignString signs a raw string value.
func (s *Signer) SignString(v string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignCall derives the PII-safe signature of a tool call. sideEffect is the
// resolved classification (explicit flag or configured tool set).
func (s *Signer) SignCall(call ToolCall, sideEffect bool) CallSig {
	sig := CallSig{
		Name:       call.Name,
		ArgsSig:    s.Sign(call.Args),
		SideEffect: sideEffect,
	}
	if call.TicketID != "" {
		sig.TicketSig = s.SignString(call.TicketID)
	}
	return sig
}

// canonicalBytes renders v as deterministic JSON: object keys sorted,
// numbers passed through json.Number so 10 and 10.0 encode identically
// whether they arrive as int, float64, or a decoded JSON value.
func canonicalBytes(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// Unmarshalable values still need a stable representation.
		return []byte(fmt.Sprintf("%#v", v))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return raw
	}

	var buf bytes.Buffer
	writeCanonical(&buf, decoded)
	return buf.Bytes()
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	default:
		b, _ := json.Marshal(t)
		buf.Write(b)
	}
}
