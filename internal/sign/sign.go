// Package sign implements the canonicalization and HMAC computation shared by
// all provider adapters. Each gateway documents its own canonical string
// (which keys participate, their order, whether empty values are written and
// whether values are query-escaped) and its own HMAC algorithm; getting any
// of it wrong breaks verification silently, so the variations are explicit
// options rather than per-adapter copies of the loop.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Algorithm selects the HMAC hash.
type Algorithm string

const (
	HMACSHA256 Algorithm = "HMAC-SHA256"
	HMACSHA512 Algorithm = "HMAC-SHA512"
)

func newHash(alg Algorithm) (func() hash.Hash, error) {
	switch alg {
	case HMACSHA256:
		return sha256.New, nil
	case HMACSHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("sign: unsupported algorithm %q", alg)
}

// Options controls canonical string construction.
type Options struct {
	// OmitEmpty drops keys whose value is the empty string instead of
	// writing "key=". Providers disagree on this and mixing them up is the
	// classic verification failure.
	OmitEmpty bool
	// Escape query-escapes values (space as '+'), as VNPay's hash data
	// requires.
	Escape bool
}

// Canonical builds "k1=v1&k2=v2..." over params with keys sorted
// lexicographically.
func Canonical(params map[string]string, o Options) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return CanonicalOrdered(keys, params, o)
}

// CanonicalOrdered builds "k1=v1&k2=v2..." visiting keys in the given fixed
// order. Keys absent from params are skipped entirely; empty values follow
// o.OmitEmpty.
func CanonicalOrdered(keys []string, params map[string]string, o Options) string {
	var b strings.Builder
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		if v == "" && o.OmitEmpty {
			continue
		}
		if o.Escape {
			v = url.QueryEscape(v)
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// Digest computes the hex-encoded HMAC of payload under secret.
func Digest(alg Algorithm, secret, payload string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign canonicalizes params (sorted keys) and returns the hex digest.
func Sign(params map[string]string, secret string, alg Algorithm, o Options) (string, error) {
	return Digest(alg, secret, Canonical(params, o))
}

// Verify recomputes the digest over the sorted canonical form of params and
// compares it to provided in constant time. Hex case is ignored.
func Verify(params map[string]string, provided, secret string, alg Algorithm, o Options) bool {
	expected, err := Sign(params, secret, alg, o)
	if err != nil {
		return false
	}
	return Equal(expected, provided)
}

// Equal compares two hex digests in constant time, ignoring case.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}
