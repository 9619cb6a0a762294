package note

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	appLog "notecal/internal/log"
)

// ErrDocumentIO wraps failures reading or writing a note.
var ErrDocumentIO = errors.New("note: document io")

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{"Archive", "Weekly"}

var datePattern = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`)

// Note is a markdown file together with the day it belongs to.
type Note struct {
	Path string
	// Date is the civil date from the filename, as midnight UTC.
	Date time.Time
}

// DateFromFilename finds the first MM-DD-YYYY group in name, e.g.
// "12-21-2024 (Sat) 📝.md". Impossible dates such as 02-30-2024 are
// rejected.
func DateFromFilename(name string) (time.Time, bool) {
	m := datePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// Discover walks root and returns every dated markdown note, in lexical
// path order. Directories whose name is in skipDirs are not entered.
// Entries below root that cannot be read are logged and skipped; only an
// unreadable root is an error.
func Discover(root string, skipDirs []string) ([]Note, error) {
	notes, err := discoverFS(os.DirFS(root), skipDirs)
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrDocumentIO, root, err)
	}
	for i := range notes {
		notes[i].Path = filepath.Join(root, filepath.FromSlash(notes[i].Path))
	}
	return notes, nil
}

// discoverFS does the walk for Discover. Paths are slash-separated and
// relative to fsys.
func discoverFS(fsys fs.FS, skipDirs []string) ([]Note, error) {
	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = true
	}

	var notes []Note
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == "." {
				return err
			}
			appLog.Warn("skipping unreadable path", "path", path, "error", err.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != "." && skip[d.Name()] {
				appLog.Debug("skipping directory", "path", path)
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		date, ok := DateFromFilename(d.Name())
		if !ok {
			appLog.Debug("skipping note without date", "path", path)
			return nil
		}
		notes = append(notes, Note{Path: path, Date: date})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// ReadDocument returns the note text. A missing file reads as "".
func ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: read %s: %v", ErrDocumentIO, path, err)
	}
	return string(data), nil
}

// WriteDocument replaces the note with content via a temp file and rename
// in the same directory. An existing file keeps its permissions; new files
// get 0644.
func WriteDocument(path, content string) error {
	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIO, err)
	}

	tmp, err := os.CreateTemp(dir, ".notecal-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrDocumentIO, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrDocumentIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIO, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrDocumentIO, path, err)
	}
	return nil
}
