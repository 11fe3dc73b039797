//go:build mage

// Package main contains Mage build targets for kbsync developer tooling.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the knowledge base directories kbsync expects.
var projectDirs = []string{
	"knowledge_base/origins",
	"knowledge_base/cards_md",
	".secrets",
}

// Init creates the knowledge base directory structure.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Knowledge base directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "kbsync"
	cmdPkg  = "./cmd/kbsync"
)

// Build compiles the CLI binary into bin/, stamping the version from
// KBSYNC_VERSION or git describe.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	version := os.Getenv("KBSYNC_VERSION")
	if version == "" {
		if v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty"); err == nil {
			version = v
		} else {
			version = "dev"
		}
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+version, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s (%s)\n", out, version)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Check runs vet and the tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// KB groups targets that run kbsync against the local knowledge base.
type KB mg.Namespace

// Coverage reports documents whose cards are missing or stale.
func (KB) Coverage() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "coverage")
}

// Sync regenerates missing and stale cards.
func (KB) Sync() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "sync")
}

// Prune removes cards whose source document is gone.
func (KB) Prune() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "prune")
}

// Stats prints project metrics: Go production/test LOC and knowledge base size.
func Stats() error {
	prodLines, err := countGoLines(".", false)
	if err != nil {
		return err
	}
	testLines, err := countGoLines(".", true)
	if err != nil {
		return err
	}
	originWords, err := countDocWords(projectDirs[0])
	if err != nil {
		return err
	}
	cardWords, err := countDocWords(projectDirs[1])
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prodLines)
	fmt.Printf("Lines of code (Go, tests):      %d\n", testLines)
	fmt.Printf("Words (source documents):        %d\n", originWords)
	fmt.Printf("Words (cards):                   %d\n", cardWords)
	return nil
}

// skipDir reports whether a directory is ignored by the go tool.
func skipDir(path string, d fs.DirEntry) bool {
	name := d.Name()
	return path != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata")
}

// countGoLines counts non-blank lines in the module's Go files, either the
// tests or everything else.
func countGoLines(root string, tests bool) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(path, d) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") != tests {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) > 0 {
				total++
			}
		}
		return nil
	})
	return total, err
}

// countDocWords walks root and counts words in supported documents. A
// missing root counts as zero.
func countDocWords(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil || d.IsDir() {
			return err
		}
		switch filepath.Ext(path) {
		case ".md", ".yaml", ".yml":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		total += len(bytes.Fields(data))
		return nil
	})
	return total, err
}
