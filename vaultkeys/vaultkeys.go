// Package vaultkeys resolves storage-backend credentials (a Redis AUTH
// password, a Mongo connection-string user/pass, ...) from the OS
// keychain via github.com/zalando/go-keyring, falling back to
// environment variables. The credential is keyed by a cachex backend
// name (redis, mongo, memcached).
package vaultkeys

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "cachex"

// Vault stores and resolves backend credentials.
type Vault struct{}

// New constructs a Vault.
func New() *Vault { return &Vault{} }

// Set stores secret in the OS keychain under this backend's name.
func (v *Vault) Set(backend, secret string) error {
	return keyring.Set(serviceName, backend, secret)
}

// Get retrieves the credential for backend, checking the OS keychain
// first and falling back to CACHEX_KEY_{UPPER(backend)}.
func (v *Vault) Get(backend string) (string, error) {
	secret, err := keyring.Get(serviceName, backend)
	if err == nil && secret != "" {
		return secret, nil
	}
	envKey := "CACHEX_KEY_" + strings.ToUpper(backend)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("vaultkeys: no credential found for backend %q: not in keychain and %s not set", backend, envKey)
}

// Delete removes backend's credential from the OS keychain.
func (v *Vault) Delete(backend string) error {
	return keyring.Delete(serviceName, backend)
}

// ResolveKeyRef parses a key reference and returns the credential it
// points to. Supported formats:
//   - "keyring://cachex/<backend>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/secret"
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("vaultkeys: invalid key reference %q (expected \"keyring://cachex/<backend>\")", keyRef)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("vaultkeys: environment variable %q is not set", envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("vaultkeys: reading key file %q: %w", filePath, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("vaultkeys: key file %q is empty", filePath)
		}
		return secret, nil

	default:
		return "", fmt.Errorf("vaultkeys: invalid key reference format: %q (expected \"keyring://cachex/<backend>\", \"env:VARIABLE_NAME\", or \"file:///path/to/secret\")", keyRef)
	}
}
