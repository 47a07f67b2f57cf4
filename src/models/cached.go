package models

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/cache"
)

// CachedLLM memoises completions by prompt and optionally persists them to FilePath.
type CachedLLM struct {
	LLM      LLM
	Cache    *cache.LRU[string]
	FilePath string
}

// NewCachedLLM wraps llm with an LRU of the given size and TTL.
func NewCachedLLM(llm LLM, size int, ttl time.Duration, filePath string) *CachedLLM {
	c := &CachedLLM{
		LLM:      llm,
		Cache:    cache.NewLRU[string](size, ttl),
		FilePath: filePath,
	}
	if filePath != "" {
		c.load()
	}
	return c
}

func (c *CachedLLM) load() {
	f, err := os.Open(c.FilePath)
	if err != nil {
		return
	}
	defer f.Close()

	var dump map[string]cache.Entry[string]
	if err := json.NewDecoder(f).Decode(&dump); err != nil {
		log.Printf("[models] ignoring unreadable completion cache %s: %v", c.FilePath, err)
		return
	}
	c.Cache.Restore(dump)
}

// save writes to a temp file and renames it over FilePath.
func (c *CachedLLM) save() {
	if c.FilePath == "" {
		return
	}
	tmp := c.FilePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	if err := json.NewEncoder(f).Encode(c.Cache.Dump()); err != nil {
		f.Close()
		os.Remove(tmp)
		return
	}
	f.Close()
	os.Rename(tmp, c.FilePath)
}

// Generate checks the cache before calling the wrapped model. Errors are not cached.
func (c *CachedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	key := cache.HashKey(prompt)
	if val, ok := c.Cache.Get(key); ok {
		return val, nil
	}
	res, err := c.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.Cache.Set(key, res)
	c.save()
	return res, nil
}

// TryCachedLLM wraps llm when LLM_CACHE_SIZE is a positive integer. LLM_CACHE_TTL is in
// seconds (default 300) and LLM_CACHE_PATH names the persistence file.
func TryCachedLLM(llm LLM) LLM {
	size, err := strconv.Atoi(os.Getenv("LLM_CACHE_SIZE"))
	if err != nil || size <= 0 {
		return llm
	}
	ttl := 300 * time.Second
	if sec, err := strconv.Atoi(os.Getenv("LLM_CACHE_TTL")); err == nil && sec > 0 {
		ttl = time.Duration(sec) * time.Second
	}
	path := os.Getenv("LLM_CACHE_PATH")
	if path == "" {
		path = ".assistant_llm_cache.json"
	}
	return NewCachedLLM(llm, size, ttl, path)
}
