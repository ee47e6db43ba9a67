// Package testutil shares expensive fixtures between package tests.
package testutil

import (
	"sync"
	"testing"

	"anonreport/internal/zk"
)

var (
	keysOnce sync.Once
	keys     *zk.Keys
	keysErr  error
)

// Keys compiles the report circuit and runs groth16 setup once per test
// binary.
func Keys(t testing.TB) *zk.Keys {
	t.Helper()
	keysOnce.Do(func() { keys, keysErr = zk.Setup() })
	if keysErr != nil {
		t.Fatalf("circuit setup: %v", keysErr)
	}
	return keys
}

// Prover returns a prover over the shared keys.
func Prover(t testing.TB) *zk.Prover {
	k := Keys(t)
	return zk.NewProver(k.CS, k.PK)
}

// Verifier returns a verifier over the shared keys.
func Verifier(t testing.TB) *zk.Verifier {
	return zk.NewVerifier(Keys(t).VK)
}
