package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/youtube/vitess/go/ioutil2"
)

// ServerKey identifies a trusted server by the tuple the CLI dials with.
type ServerKey struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

type trustedServer struct {
	ServerKey
	Fingerprint string `json:"fingerprint"` // hex-encoded connection fingerprint
}

// TrustStore persists accepted connection fingerprints across runs,
// the same JSON-file-under-the-config-dir pattern the teacher uses
// for its own pairing state.
type TrustStore struct {
	store   Store
	entries map[ServerKey][32]byte
}

// LoadTrustStore reads servers.json if present; a missing file is not
// an error, it just means nothing is trusted yet.
func (s Store) LoadTrustStore() (*TrustStore, error) {
	ts := &TrustStore{store: s, entries: map[ServerKey][32]byte{}}
	raw, err := os.ReadFile(s.serversPath())
	if os.IsNotExist(err) {
		return ts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", s.serversPath(), err)
	}
	var saved []trustedServer
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", s.serversPath(), err)
	}
	for _, entry := range saved {
		fp, err := hex.DecodeString(entry.Fingerprint)
		if err != nil || len(fp) != 32 {
			return nil, fmt.Errorf("config: %s has a malformed fingerprint for %v", s.serversPath(), entry.ServerKey)
		}
		var arr [32]byte
		copy(arr[:], fp)
		ts.entries[entry.ServerKey] = arr
	}
	return ts, nil
}

// Lookup returns the previously accepted fingerprint for key, if any.
func (t *TrustStore) Lookup(key ServerKey) (*[32]byte, bool) {
	fp, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	return &fp, true
}

// Trust records key's accepted fingerprint and atomically rewrites
// servers.json.
func (t *TrustStore) Trust(key ServerKey, fingerprint [32]byte) error {
	t.entries[key] = fingerprint
	return t.save()
}

// Forget removes a previously trusted server.
func (t *TrustStore) Forget(key ServerKey) error {
	delete(t.entries, key)
	return t.save()
}

func (t *TrustStore) save() error {
	saved := make([]trustedServer, 0, len(t.entries))
	for key, fp := range t.entries {
		saved = append(saved, trustedServer{ServerKey: key, Fingerprint: hex.EncodeToString(fp[:])})
	}
	raw, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("config: serializing trust store: %w", err)
	}
	if err := ioutil2.WriteFileAtomic(t.store.serversPath(), raw, 0600); err != nil {
		return fmt.Errorf("config: writing %s: %w", t.store.serversPath(), err)
	}
	return nil
}
