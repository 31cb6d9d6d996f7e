// Package storage talks to the file-storage provider: it signs browser
// uploads and deletes stored objects when their records go away.
package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// unsignedParams never take part in a signature.
var unsignedParams = map[string]struct{}{
	"file":          {},
	"api_key":       {},
	"cloud_name":    {},
	"resource_type": {},
	"signature":     {},
}

// Signer produces provider request signatures from a shared secret.
type Signer struct {
	secret string
}

// NewSigner constructs a Signer.
func NewSigner(secret string) Signer {
	return Signer{secret: secret}
}

// Sign joins the non-empty params as sorted k=v pairs separated by "&",
// appends the secret and returns the SHA-1 hex digest.
func (s Signer) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, skip := unsignedParams[k]; skip || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(s.secret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
