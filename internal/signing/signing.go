// Package signing implements HMAC-SHA256 signatures over a canonical JSON
// serialization of sub-plan envelopes. The platform signs; this process only
// signs via the admin CLI and otherwise verifies.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/planweave/planweave/internal/domain"
)

// Envelope is the signed sub-plan payload exchanged with external agents.
// The signature covers {plan_id, sub_id, sub_plan, inputs} and nothing else.
type Envelope struct {
	PlanID    string          `json:"plan_id"`
	SubID     int             `json:"sub_id"`
	SubPlan   json.RawMessage `json:"sub_plan"`
	Inputs    map[string]any  `json:"inputs"`
	Signature string          `json:"signature,omitempty"`
}

// Canonical returns the deterministic JSON serialization of v: object keys
// sorted, no insignificant whitespace, numbers rendered as decoded.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var norm any
	if err := dec.Decode(&norm); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
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
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

// base returns the canonical bytes the signature covers.
func base(env *Envelope) ([]byte, error) {
	subPlan := env.SubPlan
	if len(subPlan) == 0 {
		subPlan = json.RawMessage("null")
	}
	return Canonical(map[string]any{
		"plan_id":  env.PlanID,
		"sub_id":   env.SubID,
		"sub_plan": subPlan,
		"inputs":   env.Inputs,
	})
}

// Sign computes the hex HMAC-SHA256 signature for the envelope.
func Sign(env *Envelope, secret string) (string, error) {
	data, err := base(env)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the expected signature and compares in constant time.
// Fails closed: missing fields yield ErrMalformedPayload, any signature
// mismatch yields ErrInvalidSignature, and the caller must not interpret
// the sub-plan on error.
func Verify(env *Envelope, secret string) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", domain.ErrMalformedPayload)
	}
	if env.PlanID == "" {
		return fmt.Errorf("%w: plan_id is required", domain.ErrMalformedPayload)
	}
	if len(env.SubPlan) == 0 {
		return fmt.Errorf("%w: sub_plan is required", domain.ErrMalformedPayload)
	}
	if env.Signature == "" {
		return fmt.Errorf("%w: signature is missing", domain.ErrInvalidSignature)
	}

	got, err := hex.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrInvalidSignature)
	}

	data, err := base(env)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
