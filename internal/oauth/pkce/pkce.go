// Package pkce implements RFC 7636 Proof Key for Code Exchange helpers and
// the opaque state tokens used for CSRF protection on the callback endpoint.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// verifierBytes produce un verifier de 43 chars base64url (mínimo RFC 7636).
	verifierBytes = 32
	// stateBytes da 256 bits de entropía para el state (mínimo requerido: 128).
	stateBytes = 32

	// ChallengeMethod es el único método soportado.
	ChallengeMethod = "S256"
)

// NewVerifier genera un code_verifier criptográficamente aleatorio.
func NewVerifier() (string, error) {
	return randomToken(verifierBytes)
}

// Challenge deriva el code_challenge S256 de un verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewState genera un state opaco e impredecible.
func NewState() (string, error) {
	return randomToken(stateBytes)
}

// SelfCheck verifica la fuente de entropía al arrancar. Si falla, el proceso
// no debe seguir: un state/verifier predecible rompe todo el modelo de
// seguridad del flow.
func SelfCheck() error {
	if _, err := NewVerifier(); err != nil {
		return fmt.Errorf("pkce: entropy source unavailable: %w", err)
	}
	return nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
