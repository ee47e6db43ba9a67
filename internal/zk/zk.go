package zk

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	ProofSystem = "groth16"
	ProofCurve  = "bn254"
)

// PublicInputs are the four public signals of the report circuit, in the
// order the circuit declares them.
type PublicInputs struct {
	Root          Hash `cbor:"root" json:"root"`
	Nullifier     Hash `cbor:"nullifier" json:"nullifier"`
	ActionContext Hash `cbor:"action_context" json:"action_context"`
	Signal        Hash `cbor:"signal" json:"signal"`
}

// Proof bundles a serialized groth16 proof with the public inputs it was
// produced for.
type Proof struct {
	System string       `cbor:"system"`
	Curve  string       `cbor:"curve"`
	Public PublicInputs `cbor:"public"`
	Raw    []byte       `cbor:"proof"`
}

// EncodeProof serializes p as base64(CBOR).
func EncodeProof(p Proof) (string, error) {
	b, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeProof parses the output of EncodeProof.
func DecodeProof(s string) (Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Proof{}, fmt.Errorf("invalid proof encoding")
	}
	var p Proof
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return Proof{}, fmt.Errorf("invalid proof bundle")
	}
	if p.System != ProofSystem || p.Curve != ProofCurve {
		return Proof{}, fmt.Errorf("unsupported proof system %s/%s", p.System, p.Curve)
	}
	if len(p.Raw) == 0 {
		return Proof{}, fmt.Errorf("missing proof bytes")
	}
	for _, h := range []Hash{p.Public.Root, p.Public.Nullifier, p.Public.ActionContext, p.Public.Signal} {
		if !h.Canonical() {
			return Proof{}, fmt.Errorf("public input is not a field element")
		}
	}
	return p, nil
}

// Digest identifies a proof bundle byte for byte. Resubmitting the same bundle
// yields the same digest; any new proof, even for the same statement, differs.
func (p Proof) Digest() ([32]byte, error) {
	b, err := cbor.Marshal(p)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(b), nil
}
