package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"anonreport/internal/content"
	"anonreport/internal/gemini"
)

type cachedOutput struct {
	Model         string        `json:"model"`
	PromptVersion string        `json:"prompt_version"`
	Output        output        `json:"output"`
	RawText       string        `json:"raw_text"`
	Usage         *gemini.Usage `json:"usage,omitempty"`
	CachedAt      string        `json:"cached_at"`
}

func cacheKey(ref content.Ref, model string) string {
	h := sha256.New()
	h.Write(ref[:])
	h.Write([]byte(model))
	h.Write([]byte(promptVersion))
	return hex.EncodeToString(h.Sum(nil))
}

func cachePath(dir, key string) string {
	return filepath.Join(dir, key[:2], key+".json")
}

func loadCache(dir, key string) (*cachedOutput, error) {
	b, err := os.ReadFile(cachePath(dir, key))
	if err != nil {
		return nil, err
	}
	var out cachedOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func saveCache(dir, key string, out cachedOutput) error {
	path := cachePath(dir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if out.CachedAt == "" {
		out.CachedAt = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
