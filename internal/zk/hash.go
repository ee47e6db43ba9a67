package zk

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"anonreport/internal/zk/reportzk"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Hash is a BN254 scalar field element in canonical 32-byte big-endian form.
// Commitments, nullifiers, roots, action contexts and signals are all Hashes.
type Hash [32]byte

// ZeroHash is the empty tree leaf.
var ZeroHash Hash

// HashFromBig converts v into a Hash. v must already be reduced.
func HashFromBig(v *big.Int) (Hash, error) {
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return Hash{}, fmt.Errorf("value is not a field element")
	}
	var h Hash
	v.FillBytes(h[:])
	return h, nil
}

func hashFromElement(e fr.Element) Hash {
	return Hash(e.Bytes())
}

// ParseHash accepts 0x-prefixed or bare hex of exactly 32 bytes.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return Hash{}, fmt.Errorf("hash must be 32 bytes of hex")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash must be hex")
	}
	return HashFromBig(new(big.Int).SetBytes(raw))
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Canonical reports whether h is below the field modulus. Non-canonical
// encodings would alias canonical ones inside the circuit.
func (h Hash) Canonical() bool {
	return h.BigInt().Cmp(fr.Modulus()) < 0
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// BigInt returns h as an integer, the form gnark witnesses take.
func (h Hash) BigInt() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func (h Hash) element() fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	v, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// mimcHash is the native twin of the in-circuit MiMC in package reportzk.
func mimcHash(elems ...fr.Element) Hash {
	h := mimc.NewMiMC()
	for _, e := range elems {
		b := e.Bytes()
		_, _ = h.Write(b[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func small(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// Commitment is the public value enrolled for secret.
func Commitment(secret Hash) Hash {
	return mimcHash(small(reportzk.DomainCommitment), secret.element())
}

// Nullifier is the per-action tag for secret. Two action contexts under one
// secret give unrelated nullifiers.
func Nullifier(secret, actionContext Hash) Hash {
	return mimcHash(small(reportzk.DomainNullifier), secret.element(), actionContext.element())
}

// HashNodes combines two sibling tree nodes.
func HashNodes(left, right Hash) Hash {
	return mimcHash(left.element(), right.element())
}

// SecretFromBytes reduces arbitrary bytes into a field element.
func SecretFromBytes(b []byte) Hash {
	var e fr.Element
	e.SetBytes(b)
	return hashFromElement(e)
}
