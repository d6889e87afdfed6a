package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcforplebs/Signet/internal/signeterr"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	secret := []byte("00112233445566778899aabbccddeeff00112233445566778899aabbccddee")

	wrapped, err := Wrap("correct horse battery staple", secret)
	require.NoError(t, err)

	iv, data := wrapped.Encode()
	decoded, err := Decode(iv, data)
	require.NoError(t, err)

	plaintext, err := Unwrap("correct horse battery staple", decoded)
	require.NoError(t, err)
	require.Equal(t, secret, plaintext)
}

func TestUnwrapWrongPassphraseFails(t *testing.T) {
	secret := []byte("some secret material")
	wrapped, err := Wrap("right passphrase", secret)
	require.NoError(t, err)

	_, err = Unwrap("wrong passphrase", wrapped)
	require.ErrorIs(t, err, signeterr.ErrInvalidPassphrase)
}

func TestTimingSafeEqual(t *testing.T) {
	require.True(t, TimingSafeEqual("mysecret", "mysecret"))
	require.True(t, TimingSafeEqual("  MySecret ", "mysecret"), "comparison is trimmed and case-insensitive")
	require.False(t, TimingSafeEqual("mysecret", "othersecret"))
	require.False(t, TimingSafeEqual("mysecret", "mysecretlonger"))
	require.False(t, TimingSafeEqual("", "mysecret"))
}
