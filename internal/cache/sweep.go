package cache

import (
	"container/heap"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/markxiv/internal/metrics"
)

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// oldestFirst is a min-heap of files ordered by modification time
type oldestFirst []fileEntry

func (h oldestFirst) Len() int { return len(h) }
func (h oldestFirst) Less(i, j int) bool {
	if h[i].modTime.Equal(h[j].modTime) {
		return h[i].path < h[j].path
	}
	return h[i].modTime.Before(h[j].modTime)
}
func (h oldestFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *oldestFirst) Push(x any)   { *h = append(*h, x.(fileEntry)) }
func (h *oldestFirst) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Stats describes the files currently under the cache root
type Stats struct {
	Files int
	Bytes int64
}

// Sweep enforces the byte cap. When the running size exceeds the cap it walks
// the whole tree, resets the running size from what it found and removes the
// oldest files until the total is at or under the cap. It returns the number
// of bytes freed.
func (c *DiskCache) Sweep() (int64, error) {
	if c.capBytes <= 0 {
		return 0, nil
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	c.mu.Lock()
	before := c.size
	c.mu.Unlock()
	if before <= c.capBytes {
		return 0, nil
	}

	entries, total, err := c.walk()
	if err != nil {
		return 0, err
	}

	h := oldestFirst(entries)
	heap.Init(&h)

	var freed int64
	var evicted int
	for total > c.capBytes && h.Len() > 0 {
		e := heap.Pop(&h).(fileEntry)
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		total -= e.size
		freed += e.size
		evicted++
	}

	// Puts that landed while we were walking are not in total; keep them.
	c.mu.Lock()
	if delta := c.size - before; delta > 0 {
		total += delta
	}
	c.size = total
	c.mu.Unlock()

	metrics.DiskCacheEvictions.Add(float64(evicted))
	metrics.DiskCacheBytes.Set(float64(total))
	return freed, nil
}

// Stats walks the cache root and reports file count and total bytes
func (c *DiskCache) Stats() (Stats, error) {
	entries, total, err := c.walk()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Files: len(entries), Bytes: total}, nil
}

func (c *DiskCache) measure() (int64, error) {
	_, total, err := c.walk()
	return total, err
}

func (c *DiskCache) walk() ([]fileEntry, int64, error) {
	var entries []fileEntry
	var total int64

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files can vanish under a concurrent sweep or rename.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		entries = append(entries, fileEntry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
