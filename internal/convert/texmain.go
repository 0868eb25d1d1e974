package convert

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// TexFile is a candidate main file: its path relative to the bundle root
// and its contents.
type TexFile struct {
	Path    string
	Content string
}

// supplementaryFragments mark file names that are unlikely to be the main
// document when they appear anywhere in the name.
var supplementaryFragments = []string{"supp", "appendix"}

// SelectMainTex picks the main document among candidate .tex files.
// Ranking: files with \documentclass first, then names that do not look
// supplementary, then longer content, then path order.
func SelectMainTex(files []TexFile) (string, bool) {
	var candidates []TexFile
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.Path), ".tex") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	slices.SortFunc(candidates, func(a, b TexFile) int {
		if c := compareBool(hasDocumentClass(b), hasDocumentClass(a)); c != 0 {
			return c
		}
		if c := compareBool(IsSupplementaryName(a.Path), IsSupplementaryName(b.Path)); c != 0 {
			return c
		}
		if c := cmp.Compare(len(b.Content), len(a.Content)); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return candidates[0].Path, true
}

// IsSupplementaryName reports whether a file name looks like an appendix or
// supplementary document. "si" only counts as a whole name token, so
// analysis.tex is not supplementary but si.tex and paper_si.tex are.
func IsSupplementaryName(path string) bool {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for _, frag := range supplementaryFragments {
		if strings.Contains(stem, frag) {
			return true
		}
	}
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return slices.Contains(tokens, "si")
}

// FindMainTex walks an extracted bundle and returns the path of its main
// .tex file relative to dir.
func FindMainTex(dir string) (string, error) {
	var files []TexFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ".tex") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, TexFile{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan bundle: %w", err)
	}

	mainFile, ok := SelectMainTex(files)
	if !ok {
		return "", ErrNoMainTex
	}
	return mainFile, nil
}

func hasDocumentClass(f TexFile) bool {
	return strings.Contains(f.Content, `\documentclass`)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
