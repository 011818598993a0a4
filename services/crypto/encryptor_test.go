package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestEncryptor_BodyRoundTripAndFreshNonce(t *testing.T) {
	// Arrange
	enc, err := NewEncryptor(testSecret)
	require.NoError(t, err)
	e := enc.(*secretboxEncryptor)
	ctx := context.Background()

	// Act
	first, err := enc.EncryptBody(ctx, "owner-1", []byte("hello"))
	require.NoError(t, err)
	second, err := enc.EncryptBody(ctx, "owner-1", []byte("hello"))
	require.NoError(t, err)

	// Assert
	assert.NotEqual(t, first, second)
	key, err := e.ownerKey("owner-1", "body")
	require.NoError(t, err)
	plain, err := open(first, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	otherKey, err := e.ownerKey("owner-2", "body")
	require.NoError(t, err)
	_, err = open(first, otherKey)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptor_Attachment(t *testing.T) {
	enc, err := NewEncryptor(testSecret)
	require.NoError(t, err)
	e := enc.(*secretboxEncryptor)

	out, err := enc.EncryptAttachment(context.Background(), "owner-1", []byte("file content"))
	require.NoError(t, err)

	wrapKey, err := e.ownerKey("owner-1", "attachment-key")
	require.NoError(t, err)
	sessionKey, err := open(out.KeyPackets, wrapKey)
	require.NoError(t, err)
	require.Len(t, sessionKey, keySize)

	var k [keySize]byte
	copy(k[:], sessionKey)
	plain, err := open(out.DataPacket, &k)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(plain))

	signKey, err := e.ownerKey("owner-1", "signature")
	require.NoError(t, err)
	mac := hmac.New(sha256.New, signKey[:])
	mac.Write([]byte("file content"))
	assert.Equal(t, mac.Sum(nil), out.Signature)
}

func TestNewEncryptor_RejectsShortSecret(t *testing.T) {
	_, err := NewEncryptor("short")
	assert.Error(t, err)
}

func TestOpen_RejectsTruncated(t *testing.T) {
	var k [keySize]byte
	_, err := open([]byte("tiny"), &k)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
