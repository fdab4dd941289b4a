package build

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Suffix lengths of generated file names.
const (
	stylesheetSuffixLen = 12
	documentSuffixLen   = 5
)

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// StagingSuffix is appended to the output directories a build writes into
// when atomic publishing is enabled.
const StagingSuffix = ".staging"

// randString returns n characters of uppercase letters and digits. The
// suffixes only defeat caching, so they need not be unpredictable.
func randString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(suffixAlphabet[rand.IntN(len(suffixAlphabet))])
	}

	return b.String()
}

// resetDir deletes dir and creates it again, empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	return os.MkdirAll(dir, 0o755)
}

// copyTree copies the contents of src into dst, creating dst. A missing src
// is treated as empty.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// listFiles returns the regular files directly inside dir with extension
// ext, sorted by name.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == ext {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	return files, nil
}

// publish moves staging into place as final. The previous final directory
// is renamed aside first and removed once the swap succeeded.
func publish(staging, final string) error {
	old := final + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}

	hadFinal := true
	if err := os.Rename(final, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving %s aside: %w", final, err)
		}
		hadFinal = false
	}

	if err := os.Rename(staging, final); err != nil {
		if hadFinal {
			_ = os.Rename(old, final)
		}
		return fmt.Errorf("publishing %s: %w", staging, err)
	}

	return os.RemoveAll(old)
}
