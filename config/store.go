// Package config resolves the client's certificate directory and
// persists the client certificate plus trusted-server fingerprints
// there, in the teacher's home-directory-resolution-plus-JSON-file
// idiom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const dirName = "pyutmremote"
const certFileName = "client.crt"
const serversFileName = "servers.json"

// CertPassphrase is the literal passphrase the wire layer expects when
// decrypting client.crt's private key (§6).
const CertPassphrase = "password"

// Store owns the on-disk certificate directory.
type Store struct {
	Dir string
}

// OpenStore resolves the certificate directory, creating it (mode
// 0700) if it does not already exist.
func OpenStore() (Store, error) {
	dir, err := certDir()
	if err != nil {
		return Store{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Store{}, fmt.Errorf("config: creating %s: %w", dir, err)
	}
	return Store{Dir: dir}, nil
}

func certDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, dirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", dirName), nil
}

func (s Store) certPath() string    { return filepath.Join(s.Dir, certFileName) }
func (s Store) serversPath() string { return filepath.Join(s.Dir, serversFileName) }
