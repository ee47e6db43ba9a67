package zk

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Domain separators for the Poseidon hashes over public values. These never
// enter the circuit; the verifier recomputes them from the request.
const (
	domainContentAction = 3
	domainTagAction     = 4
	domainSignal        = 5
)

const (
	poseidonMaxInputs = 16
	chunkBytes        = 31
)

// ActionContextForContent scopes nullifiers to one piece of content: a member
// can report each content reference once.
func ActionContextForContent(ref [32]byte) (Hash, error) {
	hi, lo := limbs(ref)
	return poseidonHash(big.NewInt(domainContentAction), hi, lo)
}

// ActionContextForTag scopes nullifiers to a fixed tag such as an epoch name:
// a member can report once per tag.
func ActionContextForTag(tag string) (Hash, error) {
	if tag == "" {
		return Hash{}, fmt.Errorf("tag must be non-empty")
	}
	inputs := append([]*big.Int{big.NewInt(domainTagAction)}, bytesToField([]byte(tag))...)
	return poseidonHash(inputs...)
}

// Signal binds report content, tags and an optional corrected report id into
// one field element. Tags are order-insensitive.
func Signal(ref [32]byte, tags []string, supersedes *uint64) (Hash, error) {
	tagsHash, err := hashTags(tags)
	if err != nil {
		return Hash{}, err
	}
	sup := new(big.Int)
	if supersedes != nil {
		sup.SetUint64(*supersedes)
		sup.Add(sup, big.NewInt(1))
	}
	hi, lo := limbs(ref)
	return poseidonHash(big.NewInt(domainSignal), hi, lo, tagsHash.BigInt(), sup)
}

// NormalizeTags trims, drops empties, de-duplicates and sorts.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func hashTags(tags []string) (Hash, error) {
	norm := NormalizeTags(tags)
	inputs := make([]*big.Int, 0, 1+len(norm))
	inputs = append(inputs, big.NewInt(int64(len(norm))))
	for _, t := range norm {
		th, err := poseidonHash(bytesToField([]byte(t))...)
		if err != nil {
			return Hash{}, err
		}
		inputs = append(inputs, th.BigInt())
	}
	return poseidonHash(inputs...)
}

// limbs splits a 256-bit digest into two 128-bit halves so each fits the field.
func limbs(ref [32]byte) (hi, lo *big.Int) {
	return new(big.Int).SetBytes(ref[:16]), new(big.Int).SetBytes(ref[16:])
}

// bytesToField length-prefixes b and packs it into 31-byte field elements.
func bytesToField(b []byte) []*big.Int {
	out := make([]*big.Int, 0, 1+(len(b)+chunkBytes-1)/chunkBytes)
	out = append(out, big.NewInt(int64(len(b))))
	for i := 0; i < len(b); i += chunkBytes {
		end := i + chunkBytes
		if end > len(b) {
			end = len(b)
		}
		out = append(out, new(big.Int).SetBytes(b[i:end]))
	}
	return out
}

// poseidonHash absorbs any number of inputs by chaining 16-wide calls.
func poseidonHash(inputs ...*big.Int) (Hash, error) {
	if len(inputs) == 0 {
		return Hash{}, fmt.Errorf("poseidon: no inputs")
	}
	first := inputs
	if len(first) > poseidonMaxInputs {
		first = inputs[:poseidonMaxInputs]
	}
	acc, err := poseidon.Hash(first)
	if err != nil {
		return Hash{}, fmt.Errorf("poseidon: %w", err)
	}
	rest := inputs[len(first):]
	for len(rest) > 0 {
		n := poseidonMaxInputs - 1
		if n > len(rest) {
			n = len(rest)
		}
		next := make([]*big.Int, 0, n+1)
		next = append(next, acc)
		next = append(next, rest[:n]...)
		acc, err = poseidon.Hash(next)
		if err != nil {
			return Hash{}, fmt.Errorf("poseidon: %w", err)
		}
		rest = rest[n:]
	}
	return HashFromBig(acc)
}
