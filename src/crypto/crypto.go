/*
This file contains encryption helpers used by the server and client for
the login challenge exchange.
*/
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Encrypt encrypts plaintext using a key-derived AES-GCM key.
// Returns ciphertext with nonce prepended.
func Encrypt(key, text string) ([]byte, error) {
	hasher := sha256.New()
	hasher.Write([]byte(key))
	sha := hasher.Sum(nil)

	block, err := aes.NewCipher(sha)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := aesgcm.Seal(nonce, nonce, []byte(text), nil)
	return ciphertext, nil
}

// Decrypt decrypts ciphertext produced by Encrypt (nonce prepended).
func Decrypt(key string, ciphertext []byte) ([]byte, error) {
	hasher := sha256.New()
	hasher.Write([]byte(key))
	sha := hasher.Sum(nil)

	block, err := aes.NewCipher(sha)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := aesgcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}
