package content

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Ref is the BLAKE3-256 digest of a piece of content.
type Ref [32]byte

// RefOf returns the reference for b.
func RefOf(b []byte) Ref {
	return Ref(blake3.Sum256(b))
}

// ParseRef accepts 64 hex characters, optionally prefixed with "b3:".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "b3:")
	if len(s) != 64 {
		return Ref{}, fmt.Errorf("content ref must be 64 hex characters")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Ref{}, fmt.Errorf("content ref must be hex")
	}
	var r Ref
	copy(r[:], raw)
	return r, nil
}

func (r Ref) String() string {
	return hex.EncodeToString(r[:])
}

func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Ref) UnmarshalText(text []byte) error {
	v, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
