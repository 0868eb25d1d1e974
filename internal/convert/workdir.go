package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// newWorkDir creates a fresh directory under root for one conversion step.
// Names combine pid, a nanosecond timestamp and a random uuid, so
// concurrent steps never share a directory without any shared counter.
func newWorkDir(root string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create work root: %w", err)
	}

	name := fmt.Sprintf("markxiv-%d-%d-%s", os.Getpid(), time.Now().UnixNano(), uuid.NewString())
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}
