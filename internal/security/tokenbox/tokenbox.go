// Package tokenbox cifra tokens de providers en reposo con AES-256-GCM.
//
// Formato del ciphertext: v1|base64(nonce)|base64(ct). El prefijo de versión
// deja la puerta abierta a rotación de clave sin invalidar lo ya guardado.
// Solo este paquete conoce la clave; nada fuera del boundary ve plaintext.
package tokenbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // v1|nonce|ciphertext
	keyVersion        = "v1"
)

// ErrDecrypt indica que un ciphertext guardado no se puede abrir (clave
// rotada, dato corrupto). Para el caller equivale a un token expirado:
// forzar re-autorización, nunca crashear.
var ErrDecrypt = errors.New("tokenbox: ciphertext unusable")

// Box cifra y descifra con una clave fija cargada al arrancar.
type Box struct {
	key []byte
}

// New construye un Box desde una clave base64 (32 bytes decodificados).
// Generar una con: openssl rand -base64 32
func New(keyB64 string) (*Box, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("tokenbox: decode key: %w", err)
	}
	if len(k) != requiredKeyLength {
		return nil, fmt.Errorf("tokenbox: key must decode to %d bytes, got %d", requiredKeyLength, len(k))
	}
	key := make([]byte, len(k))
	copy(key, k)
	return &Box{key: key}, nil
}

// Encrypt cifra plainText y devuelve v1|base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plainText string) (string, error) {
	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("tokenbox: nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)

	return keyVersion + sep +
		base64.StdEncoding.EncodeToString(nonce) + sep +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt abre un ciphertext producido por Encrypt.
// Cualquier fallo de formato o autenticación se reporta como ErrDecrypt.
func (b *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 3 || parts[0] != keyVersion {
		return "", fmt.Errorf("%w: bad format", ErrDecrypt)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("%w: bad nonce", ErrDecrypt)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecrypt)
	}

	aesgcm, err := b.aead()
	if err != nil {
		return "", err
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: auth failed", ErrDecrypt)
	}
	return string(pt), nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("tokenbox: aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tokenbox: cipher.NewGCM: %w", err)
	}
	return aesgcm, nil
}
