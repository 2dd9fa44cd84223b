package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/jonwraymond/provmux/provider"
)

// Keyer derives cache keys from requests.
//
// Contract:
// - Determinism: equal fingerprints produce equal keys regardless of map order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(req provider.Request) (string, error)
}

// DefaultKeyer generates SHA-256 based keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns resp:<model>:<hash> where hash is the first 16 hex characters
// of the request fingerprint.
func (k *DefaultKeyer) Key(req provider.Request) (string, error) {
	sum, err := Fingerprint(req.Model, req.Prompt, req.Params, req.Payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("resp:%s:%s", req.Model, sum[:16]), nil
}

// Fingerprint returns the hex SHA-256 of the canonical form of a request.
// Prompts that differ only in surrounding or repeated whitespace share a
// fingerprint. A payload is opaque and contributes its exact bytes.
func Fingerprint(model, prompt string, params map[string]any, payload []byte) (string, error) {
	p, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize params: %w", err)
	}
	m, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("cache: encode model: %w", err)
	}
	pr, err := json.Marshal(NormalizePrompt(prompt))
	if err != nil {
		return "", fmt.Errorf("cache: encode prompt: %w", err)
	}

	buf := make([]byte, 0, len(m)+len(pr)+len(p)+32)
	buf = append(buf, `{"model":`...)
	buf = append(buf, m...)
	if len(payload) > 0 {
		ps := sha256.Sum256(payload)
		buf = append(buf, `,"payload":"`...)
		buf = hex.AppendEncode(buf, ps[:])
		buf = append(buf, '"')
	}
	buf = append(buf, `,"params":`...)
	buf = append(buf, p...)
	buf = append(buf, `,"prompt":`...)
	buf = append(buf, pr...)
	buf = append(buf, '}')

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizePrompt trims a prompt and collapses whitespace runs to one space.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// canonicalize produces a deterministic JSON representation of v.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		// Typed maps and structs are normalized through a generic decode.
		if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
			var generic any
			if err := json.Unmarshal(b, &generic); err != nil {
				return nil, err
			}
			switch generic.(type) {
			case map[string]any, []any:
				return canonicalize(generic)
			}
		}
		return b, nil
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, ':')

		vb, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, vb...)
	}
	return append(out, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	out := []byte{'['}
	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}
		vb, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, vb...)
	}
	return append(out, ']'), nil
}
