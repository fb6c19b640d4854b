package connectreq

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// keyDomain separates query keys from any other hash computed over the
// same canonical bytes. The version suffix allows the encoding to change.
const keyDomain = "connectreq/query/v1"

// keyFields is the canonical form hashed into a QueryKey. Field order is
// fixed and map keys are sorted by encoding/json.
type keyFields struct {
	URL     string         `json:"url"`
	Body    []byte         `json:"body,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// KeyOf returns the identity of cfg. An explicit cfg.QueryKey is returned
// as is. Otherwise the key is derived from URL, Body and Options only, so two
// configs that differ in Meta, Transform, Update, Force or Retry share a key.
//
// KeyOf fails when Options holds a value that cannot be encoded as JSON.
func KeyOf(cfg QueryConfig) (QueryKey, error) {
	if cfg.QueryKey != "" {
		return cfg.QueryKey, nil
	}

	canonical, err := marshalCanonical(keyFields{
		URL:     norm.NFC.String(cfg.URL),
		Body:    cfg.Body,
		Options: cfg.Options,
	})
	if err != nil {
		return "", fmt.Errorf("query key for %q: %w", cfg.URL, err)
	}

	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return QueryKey(hex.EncodeToString(h.Sum(nil))), nil
}

// MustKeyOf is like KeyOf but panics on error.
// Use only in tests or when Options are known to be encodable.
func MustKeyOf(cfg QueryConfig) QueryKey {
	key, err := KeyOf(cfg)
	if err != nil {
		panic(err)
	}
	return key
}

func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
