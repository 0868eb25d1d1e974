package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockConverter implements Converter
type mockConverter struct {
	mu         sync.Mutex
	failIDs    map[string]bool
	calls      []string
	sawRefresh bool
}

func (m *mockConverter) Convert(ctx context.Context, id string, refresh bool) (string, error) {
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	m.calls = append(m.calls, id)
	if refresh {
		m.sawRefresh = true
	}
	m.mu.Unlock()
	if m.failIDs[id] {
		return "", errors.New("conversion failed")
	}
	return "# " + id, nil
}

func TestBatchProcessor_ProcessIDs(t *testing.T) {
	conv := &mockConverter{}
	processor := NewBatchProcessor(conv, 2, false)

	ids := []string{"1234.5678", "2101.00001", "hep-th/9901001"}
	results := processor.ProcessIDs(context.Background(), ids)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	for i, res := range results {
		if res.ID != ids[i] {
			t.Errorf("result %d: expected id %s, got %s", i, ids[i], res.ID)
		}
		if res.Error != nil {
			t.Errorf("unexpected error for %s: %v", res.ID, res.Error)
		}
		if res.Markdown != "# "+ids[i] {
			t.Errorf("unexpected markdown for %s: %q", res.ID, res.Markdown)
		}
	}
	if conv.sawRefresh {
		t.Error("refresh should not be set")
	}
}

func TestBatchProcessor_ProcessIDs_Error(t *testing.T) {
	conv := &mockConverter{failIDs: map[string]bool{"bad": true}}
	processor := NewBatchProcessor(conv, 2, true)

	results := processor.ProcessIDs(context.Background(), []string{"good", "bad"})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error != nil {
		t.Errorf("expected success for good, got %v", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("expected error for bad, got nil")
	}
	if results[1].Markdown != "" {
		t.Error("expected empty markdown on error")
	}
	if !conv.sawRefresh {
		t.Error("refresh flag should be passed through")
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockConverter{}, 2, false)
	results := processor.ProcessIDs(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestBatchProcessor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processor := NewBatchProcessor(&mockConverter{}, 1, false)
	results := processor.ProcessIDs(ctx, []string{"a", "b", "c"})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, res := range results {
		if res == nil {
			t.Fatal("nil result")
		}
		if res.Error == nil && res.Markdown == "" {
			t.Errorf("result for %s has neither markdown nor error", res.ID)
		}
	}
}

func TestReadIDsFromFile(t *testing.T) {
	content := `1234.5678
# comment
2101.00001

1234.5678
  hep-th/9901001  `

	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	ids, err := ReadIDsFromFile(path)
	if err != nil {
		t.Fatalf("ReadIDsFromFile failed: %v", err)
	}

	expected := []string{"1234.5678", "2101.00001", "hep-th/9901001"}
	if len(ids) != len(expected) {
		t.Fatalf("expected %d ids, got %d: %v", len(expected), len(ids), ids)
	}
	for i, want := range expected {
		if ids[i] != want {
			t.Errorf("id %d: expected %s, got %s", i, want, ids[i])
		}
	}
}

func TestReadIDsFromFile_Missing(t *testing.T) {
	if _, err := ReadIDsFromFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"1234.5678", "1234.5678.md"},
		{"hep-th/9901001", "hep-th_9901001.md"},
		{"arXiv:1234.5678", "arXiv_1234.5678.md"},
		{"..", "_.md"},
	}
	for _, tt := range tests {
		got := filepath.Base(OutputPath("out", tt.id))
		if got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestWriteResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	results := []*ConvertResult{
		{ID: "1234.5678", Markdown: "# one"},
		{ID: "bad", Error: errors.New("boom")},
		{ID: "hep-th/9901001", Markdown: "# two"},
	}

	n, err := WriteResults(dir, results)
	if err != nil {
		t.Fatalf("WriteResults failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 files written, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hep-th_9901001.md"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "# two") {
		t.Errorf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.md")); !os.IsNotExist(err) {
		t.Error("failed result should not be written")
	}
}
