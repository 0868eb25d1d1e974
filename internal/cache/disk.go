package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/metrics"
)

// FileSuffix marks a gzip-compressed markdown cache file
const FileSuffix = ".md.gz"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// DiskConfig configures a DiskCache
type DiskConfig struct {
	Root          string
	CapBytes      int64         // 0 disables sweeping
	SweepInterval time.Duration // <= 0 disables the background sweeper
}

// DiskCache stores gzip-compressed markdown in a two-level sharded directory
// tree. A background sweeper keeps the total size under CapBytes by removing
// the files with the oldest modification time; reads touch the mtime so the
// order approximates least recently used.
//
// Two keys whose sanitized filenames collide under the same shard overwrite
// each other. Keys produced by CanonicalKey never do.
type DiskCache struct {
	root     string
	capBytes int64
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	size int64 // approximate; reconciled by Sweep

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

// NewDiskCache creates the root directory, measures its current size and
// starts the sweeper when both a cap and an interval are configured.
func NewDiskCache(cfg DiskConfig, logger *zap.Logger) (*DiskCache, error) {
	if cfg.Root == "" {
		return nil, errors.New("disk cache root is empty")
	}
	if cfg.CapBytes < 0 {
		return nil, errors.New("disk cache cap must be >= 0")
	}
	if err := os.MkdirAll(cfg.Root, dirPerm); err != nil {
		return nil, fmt.Errorf("create disk cache root: %w", err)
	}

	c := &DiskCache{
		root:     cfg.Root,
		capBytes: cfg.CapBytes,
		interval: cfg.SweepInterval,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}

	size, err := c.measure()
	if err != nil {
		c.logger.Warn("disk cache initial size scan failed", zap.String("root", c.root), zap.Error(err))
		size = 0
	}
	c.size = size
	metrics.DiskCacheBytes.Set(float64(size))

	if c.capBytes > 0 && c.interval > 0 {
		c.startSweeper()
	}
	return c, nil
}

// Get returns the cached markdown for key. A missing file is a miss, not an error.
func (c *DiskCache) Get(key string) (string, bool, error) {
	path := c.PathFor(key)

	blob, err := os.ReadFile(path) //nolint:gosec // path is derived from a sanitized key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.CacheLookups.WithLabelValues(metrics.TierDisk, "miss").Inc()
			return "", false, nil
		}
		metrics.CacheLookups.WithLabelValues(metrics.TierDisk, "error").Inc()
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}

	now := c.now()
	_ = os.Chtimes(path, now, now)

	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		metrics.CacheLookups.WithLabelValues(metrics.TierDisk, "error").Inc()
		return "", false, fmt.Errorf("decompress %s: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(metrics.TierDisk, "error").Inc()
		return "", false, fmt.Errorf("decompress %s: %w", path, err)
	}

	metrics.CacheLookups.WithLabelValues(metrics.TierDisk, "hit").Inc()
	return string(data), true, nil
}

// Put compresses value and atomically replaces the file for key.
// Concurrent writers of one key race on rename; the last rename wins.
func (c *DiskCache) Put(key, value string) error {
	path := c.PathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create shard dir %s for key %s: %w", dir, key, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, value); err != nil {
		return fmt.Errorf("compress key %s: %w", key, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress key %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for key %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp %s for key %s: %w", tmpPath, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp %s for key %s: %w", tmpPath, key, err)
	}
	_ = os.Chmod(tmpPath, filePerm)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s -> %s for key %s: %w", tmpPath, path, key, err)
	}

	c.mu.Lock()
	c.size += int64(buf.Len())
	size := c.size
	c.mu.Unlock()
	metrics.DiskCacheBytes.Set(float64(size))
	return nil
}

// Size returns the approximate number of bytes on disk
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Root returns the cache root directory
func (c *DiskCache) Root() string {
	return c.root
}

// PathFor derives the file path of key: root/xx/yy/<sanitized-key>.md.gz where
// xx and yy are the two most significant bytes of the key's FNV-1a hash.
func (c *DiskCache) PathFor(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	sum := h.Sum64()

	name := SanitizeFilename(key)
	return filepath.Join(
		c.root,
		fmt.Sprintf("%02x", byte(sum>>56)),
		fmt.Sprintf("%02x", byte(sum>>48)),
		filepath.FromSlash(name)+FileSuffix,
	)
}

// SanitizeFilename keeps ASCII alphanumerics and -_./: and replaces anything
// else with '_'. Leading separators are stripped, and "." or ".." path
// segments are replaced so a key can never escape its shard directory.
func SanitizeFilename(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.', r == ':', r == '/':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	segments := strings.Split(strings.TrimLeft(b.String(), "/\\"), "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "":
			continue
		case ".", "..":
			seg = "_"
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "_"
	}
	return strings.Join(kept, "/")
}

// Close stops the background sweeper and waits for it to exit
func (c *DiskCache) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	return nil
}

func (c *DiskCache) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				freed, err := c.Sweep()
				if err != nil {
					c.logger.Error("disk cache sweep error", zap.String("root", c.root), zap.Error(err))
					continue
				}
				if freed > 0 {
					c.logger.Debug("disk cache sweep", zap.Int64("freed_bytes", freed), zap.Int64("size_bytes", c.Size()))
				}
			}
		}
	}()
}
