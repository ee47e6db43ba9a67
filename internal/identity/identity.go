// Package identity manages a member's secret and the commitment enrolled for it.
// The secret never leaves this package except as a proving witness.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"anonreport/internal/zk"

	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

const (
	SeedSize = 32
	hkdfInfo = "anonreport identity v1"
)

// Identity is a member's secret and public commitment.
type Identity struct {
	Seed       [SeedSize]byte
	Secret     zk.Hash
	Commitment zk.Hash
}

// Create samples a fresh seed. It fails only when the entropy source does.
func Create() (*Identity, error) {
	return createFrom(rand.Reader)
}

func createFrom(r io.Reader) (*Identity, error) {
	var seed [SeedSize]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed deterministically rebuilds an identity from its backup seed.
func FromSeed(seed [SeedSize]byte) (*Identity, error) {
	kdf := hkdf.New(sha256.New, seed[:], nil, []byte(hkdfInfo))
	// 48 bytes reduced mod r keeps the bias negligible.
	wide := make([]byte, 48)
	if _, err := io.ReadFull(kdf, wide); err != nil {
		return nil, fmt.Errorf("derive secret: %w", err)
	}
	secret := zk.SecretFromBytes(wide)
	return &Identity{
		Seed:       seed,
		Secret:     secret,
		Commitment: zk.Commitment(secret),
	}, nil
}

// CommitmentOf is the only identity value that is ever transmitted.
func CommitmentOf(id *Identity) zk.Hash {
	return id.Commitment
}

// Nullifier derives this identity's nullifier for actionContext.
func (id *Identity) Nullifier(actionContext zk.Hash) zk.Hash {
	return zk.Nullifier(id.Secret, actionContext)
}

type fileFormat struct {
	Version    int    `yaml:"version"`
	Seed       string `yaml:"seed"`
	Commitment string `yaml:"commitment"`
}

// Save writes the identity as YAML readable only by the owner.
func (id *Identity) Save(path string) error {
	out, err := yaml.Marshal(fileFormat{
		Version:    1,
		Seed:       hex.EncodeToString(id.Seed[:]),
		Commitment: id.Commitment.String(),
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads an identity file and checks the stored commitment against the seed.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported identity file version %d", f.Version)
	}
	seedBytes, err := hex.DecodeString(f.Seed)
	if err != nil || len(seedBytes) != SeedSize {
		return nil, errors.New("identity file: seed must be 32 bytes of hex")
	}
	var seed [SeedSize]byte
	copy(seed[:], seedBytes)
	id, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if f.Commitment != "" {
		stored, err := zk.ParseHash(f.Commitment)
		if err != nil {
			return nil, fmt.Errorf("identity file: %w", err)
		}
		if stored != id.Commitment {
			return nil, errors.New("identity file: commitment does not match seed")
		}
	}
	return id, nil
}
