package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"anonreport/internal/zk"

	"github.com/zeebo/blake3"
)

// Keys downloads the server's circuit keys, caching the proving key under
// cacheDir by verifying-key fingerprint so a key rotation forces a refetch.
func (c *Client) Keys(ctx context.Context, cacheDir string) (*zk.Keys, error) {
	vkBytes, err := c.download(ctx, "/api/zk/verifying-key")
	if err != nil {
		return nil, fmt.Errorf("fetch verifying key: %w", err)
	}
	vk, err := zk.ReadVerifyingKey(bytes.NewReader(vkBytes))
	if err != nil {
		return nil, err
	}

	sum := blake3.Sum256(vkBytes)
	dir := filepath.Join(cacheDir, hex.EncodeToString(sum[:8]))
	pkPath := filepath.Join(dir, zk.ProvingKeyFile)

	pkBytes, err := os.ReadFile(pkPath)
	if errors.Is(err, os.ErrNotExist) {
		pkBytes, err = c.download(ctx, "/api/zk/proving-key")
		if err != nil {
			return nil, fmt.Errorf("fetch proving key: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		tmp := pkPath + ".tmp"
		if err := os.WriteFile(tmp, pkBytes, 0o644); err != nil {
			return nil, err
		}
		if err := os.Rename(tmp, pkPath); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	pk, err := zk.ReadProvingKey(bytes.NewReader(pkBytes))
	if err != nil {
		return nil, err
	}

	cs, err := zk.Compile()
	if err != nil {
		return nil, err
	}
	return &zk.Keys{CS: cs, PK: pk, VK: vk}, nil
}
