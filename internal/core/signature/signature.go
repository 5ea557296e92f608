// Package signature computes and verifies the gateway's CheckMacValue digest.
//
// The digest covers every field except CheckMacValue itself:
//
//	HashKey=<key>&k1=v1&k2=v2...&HashIV=<iv>
//
// with keys sorted byte-wise, the whole string form-encoded and lowercased,
// a handful of escapes restored, then hashed and hex-encoded in upper case.
package signature

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FieldName is the form field that carries the digest.
const FieldName = "CheckMacValue"

// Algorithm selects the digest function. The values match EncryptType.
type Algorithm int

const (
	MD5    Algorithm = 0
	SHA256 Algorithm = 1
)

// restored undoes the encodings the gateway leaves literal (.NET UrlEncode).
var restored = strings.NewReplacer(
	"%2d", "-",
	"%5f", "_",
	"%2e", ".",
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
)

// Engine signs parameter sets with a merchant's HashKey and HashIV.
type Engine struct {
	hashKey string
	hashIV  string
	alg     Algorithm
}

// Option configures an Engine.
type Option func(*Engine)

// WithAlgorithm sets the merchant's digest algorithm. The default is SHA256.
func WithAlgorithm(alg Algorithm) Option {
	return func(e *Engine) {
		e.alg = alg
	}
}

// New creates an Engine for one merchant.
func New(hashKey, hashIV string, opts ...Option) *Engine {
	e := &Engine{hashKey: hashKey, hashIV: hashIV, alg: SHA256}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Algorithm returns the merchant's digest algorithm.
func (e *Engine) Algorithm() Algorithm {
	return e.alg
}

// Sign returns the uppercase hex digest of params. Any CheckMacValue entry is ignored.
func (e *Engine) Sign(params map[string]string, alg Algorithm) string {
	encoded := restored.Replace(strings.ToLower(url.QueryEscape(e.canonical(params))))

	switch alg {
	case MD5:
		sum := md5.Sum([]byte(encoded))
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	default:
		sum := sha256.Sum256([]byte(encoded))
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	}
}

// Verify recomputes the digest over params minus CheckMacValue with the
// merchant's algorithm and compares it in constant time. EncryptType in
// params does not select the hash. A missing digest never verifies.
func (e *Engine) Verify(params map[string]string) bool {
	received := params[FieldName]
	if received == "" {
		return false
	}
	expected := e.Sign(params, e.alg)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(received)), []byte(expected)) == 1
}

// ParseAlgorithm maps an EncryptType setting ("0" or "1") to an Algorithm.
func ParseAlgorithm(encryptType string) (Algorithm, error) {
	switch encryptType {
	case "0":
		return MD5, nil
	case "1":
		return SHA256, nil
	default:
		return SHA256, fmt.Errorf("unknown EncryptType %q", encryptType)
	}
}

func (e *Engine) canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == FieldName {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(e.hashKey)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(e.hashIV)
	return b.String()
}
