package reportzk_test

import (
	"testing"

	"anonreport/internal/zk"
	"anonreport/internal/zk/reportzk"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"
)

func emptySiblings() [reportzk.Depth]zk.Hash {
	var out [reportzk.Depth]zk.Hash
	cur := zk.ZeroHash
	for i := range out {
		out[i] = cur
		cur = zk.HashNodes(cur, cur)
	}
	return out
}

func validAssignment(t *testing.T, index uint64) reportzk.ReportCircuit {
	t.Helper()
	secret := zk.SecretFromBytes([]byte("circuit-test-secret"))
	path := zk.MerklePath{Index: index, Siblings: emptySiblings()}
	root := path.RootFrom(zk.Commitment(secret))

	var ref [32]byte
	ref[0] = 0xAB
	action, err := zk.ActionContextForContent(ref)
	require.NoError(t, err)
	signal, err := zk.Signal(ref, []string{"spam"}, nil)
	require.NoError(t, err)

	sq := signal.BigInt()
	sq.Mul(sq, sq)
	sq.Mod(sq, ecc.BN254.ScalarField())

	a := reportzk.ReportCircuit{
		Secret:        secret.BigInt(),
		LeafIndex:     index,
		SignalSquared: sq,
		Root:          root.BigInt(),
		Nullifier:     zk.Nullifier(secret, action).BigInt(),
		ActionContext: action.BigInt(),
		Signal:        signal.BigInt(),
	}
	for i, s := range path.Siblings {
		a.PathElements[i] = s.BigInt()
	}
	return a
}

func TestReportCircuit_Solved(t *testing.T) {
	for _, idx := range []uint64{0, 1, 5, 1<<reportzk.Depth - 1} {
		a := validAssignment(t, idx)
		var circuit reportzk.ReportCircuit
		require.NoError(t, test.IsSolved(&circuit, &a, ecc.BN254.ScalarField()), "index %d", idx)
	}
}

func TestReportCircuit_RejectsTamperedPublics(t *testing.T) {
	cases := map[string]func(a *reportzk.ReportCircuit){
		"root": func(a *reportzk.ReportCircuit) {
			a.Root = zk.HashNodes(zk.ZeroHash, zk.ZeroHash).BigInt()
		},
		"nullifier": func(a *reportzk.ReportCircuit) {
			a.Nullifier = zk.SecretFromBytes([]byte("other")).BigInt()
		},
		"action context": func(a *reportzk.ReportCircuit) {
			a.ActionContext = zk.SecretFromBytes([]byte("other-action")).BigInt()
		},
		"signal": func(a *reportzk.ReportCircuit) {
			a.Signal = zk.SecretFromBytes([]byte("other-signal")).BigInt()
		},
		"leaf index": func(a *reportzk.ReportCircuit) {
			a.LeafIndex = 2
		},
		"index out of range": func(a *reportzk.ReportCircuit) {
			a.LeafIndex = 1 << reportzk.Depth
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := validAssignment(t, 3)
			mutate(&a)
			var circuit reportzk.ReportCircuit
			require.Error(t, test.IsSolved(&circuit, &a, ecc.BN254.ScalarField()))
		})
	}
}
