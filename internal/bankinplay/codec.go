package bankinplay

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

// The provider derives the AES key and IV from the tenant credentials by
// left-justified '$' padding to exactly 16 bytes. A fixed IV reused per
// credential pair is a known weakness of the provider contract; it is kept
// as-is because any deviation breaks interoperability with their encryption.
const keyFiller = '$'

// Nested result keys the provider wraps structured payloads under. Probe
// order matters and must not change.
var nestedResultKeys = []string{"resultados", "planes_contables", "documento_tercero_id"}

type envelopeKind int

const (
	// envelopePlain: no data+signature pair, the body was never encrypted.
	envelopePlain envelopeKind = iota
	// envelopeCipher: data (or a known nested key of it) is base64 ciphertext.
	envelopeCipher
	// envelopeObject: data is an object with none of the known nested keys;
	// it is already decoded and returned unchanged.
	envelopeObject
)

type envelope struct {
	kind       envelopeKind
	ciphertext string
	plain      json.RawMessage
}

// Codec decrypts provider response envelopes with the credential-derived key.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Decode unwraps a provider response body. Encrypted payloads are decrypted
// and their plaintext JSON returned; everything else passes through
// unchanged. Failures surface as *domain.CodecError, never as partial data.
func (c *Codec) Decode(raw json.RawMessage, creds domain.Credentials) (json.RawMessage, error) {
	env, err := classifyEnvelope(raw)
	if err != nil {
		return nil, &domain.CodecError{Op: "classify", Err: err}
	}

	switch env.kind {
	case envelopePlain, envelopeObject:
		return env.plain, nil
	case envelopeCipher:
		plaintext, err := c.decrypt(env.ciphertext, creds)
		if err != nil {
			return nil, err
		}
		if !json.Valid(plaintext) {
			return nil, &domain.CodecError{Op: "decrypt", Err: errors.New("plaintext is not valid JSON")}
		}
		return plaintext, nil
	}
	return nil, &domain.CodecError{Op: "classify", Err: fmt.Errorf("unknown envelope kind %d", env.kind)}
}

// Encrypt is the inverse of Decode's cipher path. The provider encrypts on
// its side; this exists for round-trip verification.
func (c *Codec) Encrypt(plaintext []byte, creds domain.Credentials) (string, error) {
	block, err := aes.NewCipher(deriveKeyMaterial(creds.APIKey))
	if err != nil {
		return "", &domain.CodecError{Op: "encrypt", Err: err}
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, deriveKeyMaterial(creds.APISecret)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Codec) decrypt(ciphertext string, creds domain.Credentials) ([]byte, error) {
	encrypted, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &domain.CodecError{Op: "base64", Err: err}
	}
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, &domain.CodecError{Op: "decrypt", Err: fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(encrypted))}
	}

	block, err := aes.NewCipher(deriveKeyMaterial(creds.APIKey))
	if err != nil {
		return nil, &domain.CodecError{Op: "decrypt", Err: err}
	}

	plaintext := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, deriveKeyMaterial(creds.APISecret)).CryptBlocks(plaintext, encrypted)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, &domain.CodecError{Op: "unpad", Err: err}
	}
	return unpadded, nil
}

// classifyEnvelope resolves the provider's duck-typed response shapes into
// an explicit tagged value. A body is encrypted only when it carries both a
// data and a signature field; a structured data object is unwrapped through
// the known nested result keys before being treated as ciphertext.
func classifyEnvelope(raw json.RawMessage) (envelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		// Arrays and scalars are returned as-is; only objects can be envelopes.
		return envelope{kind: envelopePlain, plain: raw}, nil
	}

	dataRaw, hasData := top["data"]
	sigRaw, hasSig := top["signature"]
	if !hasData || !hasSig || isJSONEmpty(dataRaw) || isJSONEmpty(sigRaw) {
		return envelope{kind: envelopePlain, plain: raw}, nil
	}

	var ciphertext string
	if err := json.Unmarshal(dataRaw, &ciphertext); err == nil {
		return envelope{kind: envelopeCipher, ciphertext: ciphertext}, nil
	}

	var dataObj map[string]json.RawMessage
	if err := json.Unmarshal(dataRaw, &dataObj); err != nil {
		return envelope{kind: envelopeObject, plain: dataRaw}, nil
	}

	for _, key := range nestedResultKeys {
		nested, ok := dataObj[key]
		if !ok || isJSONEmpty(nested) {
			continue
		}
		if err := json.Unmarshal(nested, &ciphertext); err != nil {
			return envelope{}, fmt.Errorf("nested key %q is not a ciphertext string", key)
		}
		return envelope{kind: envelopeCipher, ciphertext: ciphertext}, nil
	}

	return envelope{kind: envelopeObject, plain: dataRaw}, nil
}

func isJSONEmpty(raw json.RawMessage) bool {
	trimmed := string(bytes.TrimSpace(raw))
	switch trimmed {
	case "", "null", "false", `""`, "[]", "{}", "0":
		return true
	}
	return false
}

func deriveKeyMaterial(secret string) []byte {
	material := make([]byte, 16)
	for i := range material {
		material[i] = keyFiller
	}
	copy(material, secret)
	return material
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
