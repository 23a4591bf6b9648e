package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ClearDir removes the directory and all contents. It recreates the directory
// afterwards to leave a valid empty cache location.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeByAge removes entries whose SavedAt is older than maxAge. Unreadable
// or malformed meta files are skipped.
func PurgeByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := walkMeta(dir, func(path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		var e PageEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return
		}
		if now.Sub(e.SavedAt) <= maxAge {
			return
		}
		removed++
		removeEntry(path)
	})
	return removed, err
}

// EnforceLimits evicts least recently used entries until the cache holds at
// most maxEntries entries and maxBytes body bytes. Zero disables a limit.
// Recency is the body file's modification time, refreshed by LoadBody.
func EnforceLimits(dir string, maxBytes int64, maxEntries int) (int, error) {
	if maxBytes <= 0 && maxEntries <= 0 {
		return 0, nil
	}
	type ent struct {
		meta string
		size int64
		used time.Time
	}
	var ents []ent
	var total int64
	err := walkMeta(dir, func(path string) {
		info, err := os.Stat(strings.TrimSuffix(path, ".meta.json") + ".body")
		if err != nil {
			return
		}
		ents = append(ents, ent{meta: path, size: info.Size(), used: info.ModTime()})
		total += info.Size()
	})
	if err != nil {
		return 0, err
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].used.Before(ents[j].used) })
	removed := 0
	for _, e := range ents {
		overCount := maxEntries > 0 && len(ents)-removed > maxEntries
		overBytes := maxBytes > 0 && total > maxBytes
		if !overCount && !overBytes {
			break
		}
		removeEntry(e.meta)
		total -= e.size
		removed++
	}
	return removed, nil
}

func walkMeta(dir string, fn func(path string)) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.json") {
			return nil
		}
		fn(path)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func removeEntry(metaPath string) {
	_ = os.Remove(metaPath)
	_ = os.Remove(strings.TrimSuffix(metaPath, ".meta.json") + ".body")
}
