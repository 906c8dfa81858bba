package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
)

// LoadOrGenerateKey reads a PKCS8 PEM Ed25519 private key from keyFile,
// generating and persisting a fresh one if the file does not exist. A key file
// that exists but cannot be parsed is an error, never silently replaced.
func LoadOrGenerateKey(keyFile string) ([]byte, error) {
	keyFile = filepath.Clean(keyFile)
	if err := os.MkdirAll(filepath.Dir(keyFile), 0750); err != nil {
		return nil, err
	}

	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}

		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, err
		}

		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(keyFile, pemBytes, 0600); err != nil {
			return nil, err
		}
		return pemBytes, nil
	}

	return os.ReadFile(keyFile)
}
