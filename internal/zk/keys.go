package zk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"anonreport/internal/zk/reportzk"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

const (
	ProvingKeyFile   = "proving.key"
	VerifyingKeyFile = "verifying.key"
)

// Keys holds the compiled report circuit and its groth16 keys.
type Keys struct {
	CS constraint.ConstraintSystem
	PK groth16.ProvingKey
	VK groth16.VerifyingKey
}

// Compile builds the report circuit's constraint system. Compilation is
// deterministic, so a client compiling locally gets the same system the
// server's keys were produced for.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit reportzk.ReportCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("compile circuit: %w", err)
	}
	return cs, nil
}

// Setup compiles the circuit and runs a single-party groth16 setup.
// Production deployments should replace the keys with ceremony output.
func Setup() (*Keys, error) {
	cs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("setup groth16: %w", err)
	}
	return &Keys{CS: cs, PK: pk, VK: vk}, nil
}

// LoadOrSetup reads keys from dir, running Setup and writing them on first use.
func LoadOrSetup(dir string) (*Keys, bool, error) {
	pkPath := filepath.Join(dir, ProvingKeyFile)
	vkPath := filepath.Join(dir, VerifyingKeyFile)

	_, pkErr := os.Stat(pkPath)
	_, vkErr := os.Stat(vkPath)
	if pkErr == nil && vkErr == nil {
		keys, err := Load(dir)
		return keys, false, err
	}
	if !errors.Is(pkErr, os.ErrNotExist) && pkErr != nil {
		return nil, false, pkErr
	}

	keys, err := Setup()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, err
	}
	if err := writeKey(pkPath, keys.PK); err != nil {
		return nil, false, fmt.Errorf("write proving key: %w", err)
	}
	if err := writeKey(vkPath, keys.VK); err != nil {
		return nil, false, fmt.Errorf("write verifying key: %w", err)
	}
	return keys, true, nil
}

// Load reads both keys from dir and compiles the circuit.
func Load(dir string) (*Keys, error) {
	cs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, err := readProvingKeyFile(filepath.Join(dir, ProvingKeyFile))
	if err != nil {
		return nil, err
	}
	vk, err := readVerifyingKeyFile(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return nil, err
	}
	return &Keys{CS: cs, PK: pk, VK: vk}, nil
}

// ReadProvingKey decodes a proving key written by LoadOrSetup.
func ReadProvingKey(r io.Reader) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read proving key: %w", err)
	}
	return pk, nil
}

// ReadVerifyingKey decodes a verifying key written by LoadOrSetup.
func ReadVerifyingKey(r io.Reader) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return vk, nil
}

func readProvingKeyFile(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadProvingKey(bufio.NewReader(f))
}

func readVerifyingKeyFile(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadVerifyingKey(bufio.NewReader(f))
}

func writeKey(path string, key io.WriterTo) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := key.WriteTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
