package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidPath         = errors.New("media: path is neither a file nor a directory")
	ErrUnsupportedFileKind = errors.New("media: file does not look like audio or video")
	ErrNoMediaFound        = errors.New("media: no media files found in directory")
)

// Mode tells whether a worklist came from a single file or a directory.
type Mode int

const (
	ModeSingle Mode = iota
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "single"
}

// File identifies one input recording.
type File struct {
	Path      string
	Name      string
	Stem      string
	Extension string
}

// NewFile derives name, stem and extension from path.
func NewFile(path string) File {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return File{
		Path:      path,
		Name:      name,
		Stem:      strings.TrimSuffix(name, ext),
		Extension: ext,
	}
}

// Worklist is the ordered set of files a run will transcribe.
type Worklist struct {
	Input string
	Mode  Mode
	Files []File
}

// Dir returns the directory results for this worklist are written next to.
func (w Worklist) Dir() string {
	if w.Mode == ModeBatch {
		return w.Input
	}
	return filepath.Dir(w.Input)
}

// ExtensionSet holds lower-cased extensions with a leading dot.
type ExtensionSet map[string]struct{}

func NewExtensionSet(exts []string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

// Matches reports whether the file name carries a recognized extension.
func (s ExtensionSet) Matches(name string) bool {
	_, ok := s[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Select builds the worklist for path. A file yields a single entry; a
// directory yields every recognized regular file in it, ordered by
// case-insensitive name.
func Select(path string, exts ExtensionSet) (Worklist, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Worklist{}, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	switch {
	case info.Mode().IsRegular():
		if !exts.Matches(path) {
			return Worklist{}, fmt.Errorf("%w: %s", ErrUnsupportedFileKind, path)
		}
		return Worklist{Input: path, Mode: ModeSingle, Files: []File{NewFile(path)}}, nil
	case info.IsDir():
		files, err := scanDir(path, exts)
		if err != nil {
			return Worklist{}, err
		}
		if len(files) == 0 {
			return Worklist{}, fmt.Errorf("%w: %s", ErrNoMediaFound, path)
		}
		return Worklist{Input: path, Mode: ModeBatch, Files: files}, nil
	default:
		return Worklist{}, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
}

func scanDir(dir string, exts ExtensionSet) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	var files []File
	for _, entry := range entries {
		if !exts.Matches(entry.Name()) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		// Stat follows symlinks so linked recordings are picked up too.
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, NewFile(full))
	}
	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})
	return files, nil
}
