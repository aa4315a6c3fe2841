package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"conti/internal/cryptox"
)

// ExportToFile writes a snapshot to path as indented JSON. When password is
// non-empty the document is wrapped in an encryption envelope instead.
func (b *Builder) ExportToFile(ctx context.Context, snap *Snapshot, path, password string) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if password != "" {
		env, err := cryptox.Encrypt(payload, password)
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
		payload, err = json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	return nil
}

// ImportFromFile reads a backup file and returns the decoded snapshot without
// applying it. Encrypted files are recognized by the envelope shape; for those
// the password check happens before any decryption is attempted.
func (b *Builder) ImportFromFile(ctx context.Context, path, password string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup file: %w", err)
	}
	return DecodeSnapshot(raw, password)
}

// DecodeSnapshot parses a backup document, transparently unwrapping an
// encryption envelope when one is present.
func DecodeSnapshot(raw []byte, password string) (*Snapshot, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	_, hasAlg := probe["algorithm"]
	_, hasIV := probe["iv"]
	_, hasData := probe["data"]
	if hasAlg && hasIV && hasData {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		var env cryptox.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
		}
		plain, err := cryptox.Decrypt(&env, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt backup: %w", err)
		}
		raw = plain
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedBackup)
	}
	return &snap, nil
}
