package chain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

func TestEncodeUint(t *testing.T) {
	n, err := encodeUint("25000", 256)
	require.NoError(t, err)
	assert.Equal(t, "25000", n.String())

	n, err = encodeUint("24000.0", 256)
	require.NoError(t, err)
	assert.Equal(t, "24000", n.String())

	for in, want := range map[string]string{
		"3857.142857142857142857142857": "3857",
		"24000.5":                       "24000",
		"0.2":                           "0",
		"1e3":                           "1000",
	} {
		n, err = encodeUint(in, 256)
		require.NoError(t, err, in)
		assert.Equal(t, want, n.String(), in)
	}

	for _, in := range []string{"-1", "-0.5", "abc", "", "340282366920938463463374607431768211456"} {
		_, err := encodeUint(in, 128)
		assert.ErrorIs(t, err, ErrUnencodableResult, in)
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", ErrFulfillRejected)))
	assert.True(t, IsPermanent(ErrUnencodableResult))
	assert.True(t, IsPermanent(apperrors.ChainValidation("mismatch")))
	assert.False(t, IsPermanent(apperrors.External(errors.New("dial"), "connect")))
	assert.False(t, IsPermanent(errors.New("timeout")))
}

func TestRequestExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.False(t, Request{Expiration: now.Add(time.Second)}.Expired(now))
	assert.True(t, Request{Expiration: now}.Expired(now))
}

func TestNew(t *testing.T) {
	c, err := New(FromConfig(config.ChainConfig{Name: "hardhat", Type: "EVM", URL: "http://x", Active: true}))
	require.NoError(t, err)
	assert.Equal(t, TypeEVM, c.Type())
	assert.True(t, c.Active())

	_, err = New(Config{Name: "dev", Type: TypeSubstrate, URL: "ws://x"})
	assert.ErrorContains(t, err, "sidecar_url")

	c, err = New(Config{Name: "dev", Type: TypeSubstrate, URL: "ws://x", Credentials: map[string]string{"sidecar_url": "http://s"}})
	require.NoError(t, err)
	assert.Equal(t, TypeSubstrate, c.Type())

	_, err = New(Config{Name: "x", Type: "neo"})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestLookupReference(t *testing.T) {
	ref, ok := LookupReference("Mainnet")
	require.True(t, ok)
	assert.EqualValues(t, 1, ref.ChainID)

	ref, ok = LookupReference("plasm")
	require.True(t, ok)
	require.NotNil(t, ref.SS58Prefix)
	assert.EqualValues(t, 5, *ref.SS58Prefix)

	_, ok = LookupReference("unknown")
	assert.False(t, ok)
}
