package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_SortedAndEmptyHandling(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "c": ""}

	assert.Equal(t, "a=1&b=2&c=", Canonical(params, Options{}))
	assert.Equal(t, "a=1&b=2", Canonical(params, Options{OmitEmpty: true}))
}

func TestCanonical_Escape(t *testing.T) {
	params := map[string]string{"vnp_OrderInfo": "Thanh toan don hang"}
	assert.Equal(t, "vnp_OrderInfo=Thanh+toan+don+hang", Canonical(params, Options{Escape: true}))
}

func TestCanonicalOrdered_FixedOrderSkipsAbsentKeys(t *testing.T) {
	params := map[string]string{"amount": "1000", "orderId": "O1", "extra": "x"}
	got := CanonicalOrdered([]string{"orderId", "amount", "requestId"}, params, Options{})
	assert.Equal(t, "orderId=O1&amount=1000", got)
}

func TestDigest_GoldenVectors(t *testing.T) {
	cases := []struct {
		name    string
		alg     Algorithm
		payload string
		want    string
	}{
		{"sha256", HMACSHA256, "a=1&b=2", "604fe97c66c6393ff22e3cae366eee1131e351ebc736bf12f5d62e1755b7a233"},
		{"sha256 trailing empty field", HMACSHA256, "a=1&b=2&c=", "392d96c551c4f6fd7b2e23dfd472c77c8dd90a46c35686fb1f5ff5e134fce8fc"},
		{"sha512", HMACSHA512, "a=1&b=2", "785d7084675f5b7fa7222b1aed28705aa6868ca4b654418f05cbfdf24f6b815d92e5ac964ae579e72eedbe48ac144dd3b5e852787a00d5c0479ce7767a192d38"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Digest(tc.alg, "secret", tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDigest_UnsupportedAlgorithm(t *testing.T) {
	_, err := Digest(Algorithm("MD5"), "secret", "a=1")
	assert.Error(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	params := map[string]string{"orderId": "O1", "amount": "250000", "currency": "VND"}
	for _, alg := range []Algorithm{HMACSHA256, HMACSHA512} {
		sig, err := Sign(params, "shared-secret", alg, Options{OmitEmpty: true})
		require.NoError(t, err)
		assert.True(t, Verify(params, sig, "shared-secret", alg, Options{OmitEmpty: true}))
	}
}

func TestVerify_SingleCharacterFlipFails(t *testing.T) {
	params := map[string]string{"orderId": "O1", "amount": "250000"}
	sig, err := Sign(params, "s", HMACSHA512, Options{})
	require.NoError(t, err)

	// Flip one hex character of the signature.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, Verify(params, string(flipped), "s", HMACSHA512, Options{}))

	// Tamper with one signed field.
	params["amount"] = "250001"
	assert.False(t, Verify(params, sig, "s", HMACSHA512, Options{}))
}

func TestVerify_WrongSecretAndWrongCanonicalization(t *testing.T) {
	params := map[string]string{"a": "1", "b": ""}
	sig, err := Sign(params, "k1", HMACSHA256, Options{})
	require.NoError(t, err)

	assert.False(t, Verify(params, sig, "k2", HMACSHA256, Options{}))
	// Same params, same secret, different empty-field handling.
	assert.False(t, Verify(params, sig, "k1", HMACSHA256, Options{OmitEmpty: true}))
}

func TestEqual_IgnoresHexCase(t *testing.T) {
	assert.True(t, Equal("ABCDEF01", "abcdef01"))
	assert.False(t, Equal("abcdef01", "abcdef02"))
}
