// Package crypto seals draft bodies and attachment content before upload.
// Every call draws fresh nonces so a retry never reuses ciphertext.
package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/tracing"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

type secretboxEncryptor struct {
	secret []byte
}

func NewEncryptor(secret string) (interfaces.Encryptor, error) {
	if len(secret) < 16 {
		return nil, errors.New("encryption secret must be at least 16 characters")
	}
	return &secretboxEncryptor{secret: []byte(secret)}, nil
}

// ownerKey derives a per owner key so one owner's packets never open with another's key.
func (e *secretboxEncryptor) ownerKey(ownerID, purpose string) (*[keySize]byte, error) {
	var key [keySize]byte
	r := hkdf.New(sha256.New, e.secret, []byte(ownerID), []byte("draftsync/"+purpose))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}
	return &key, nil
}

func (e *secretboxEncryptor) EncryptBody(ctx context.Context, ownerID string, body []byte) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Encryptor.EncryptBody")
	defer span.Finish()
	tracing.TagOwner(span, ownerID)

	key, err := e.ownerKey(ownerID, "body")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return seal(body, key)
}

func (e *secretboxEncryptor) EncryptAttachment(ctx context.Context, ownerID string, content []byte) (*interfaces.EncryptedAttachment, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Encryptor.EncryptAttachment")
	defer span.Finish()
	tracing.TagOwner(span, ownerID)

	var sessionKey [keySize]byte
	if _, err := io.ReadFull(rand.Reader, sessionKey[:]); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to generate session key")
	}
	dataPacket, err := seal(content, &sessionKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	wrapKey, err := e.ownerKey(ownerID, "attachment-key")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	keyPackets, err := seal(sessionKey[:], wrapKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	signKey, err := e.ownerKey(ownerID, "signature")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	mac := hmac.New(sha256.New, signKey[:])
	mac.Write(content)

	return &interfaces.EncryptedAttachment{
		KeyPackets: keyPackets,
		DataPacket: dataPacket,
		Signature:  mac.Sum(nil),
	}, nil
}

// seal returns nonce followed by the secretbox output.
func seal(plain []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

func open(sealed []byte, key *[keySize]byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrInvalidCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrInvalidCiphertext
	}
	return plain, nil
}
