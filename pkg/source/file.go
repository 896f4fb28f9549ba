package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSource reads log files from a file or directory tree.
type FileSource struct {
	Root string
}

// NewFileSource returns a source rooted at path, which must exist.
func NewFileSource(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("log source: %w", err)
	}
	return &FileSource{Root: path}, nil
}

// List returns every regular, non-hidden file under Root in lexical order.
func (f *FileSource) List(ctx context.Context) ([]Object, error) {
	info, err := os.Stat(f.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []Object{newObject(f.Root, info.Size())}, nil
	}

	var out []Object
	err = filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != f.Root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, newObject(path, fi.Size()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Open opens a file returned by List.
func (f *FileSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func newObject(name string, size int64) Object {
	o := Object{Name: name, Size: size}
	if d, ok := ObjectDay(filepath.Base(name)); ok {
		o.Day = d
	}
	return o
}
