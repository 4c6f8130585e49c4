package system

import (
	"io/fs"
)

// FakeInspector is a map-backed Inspector for tests that don't need
// call-by-call expectations.
type FakeInspector struct {
	Files map[string]string
}

func (f *FakeInspector) ReadFile(path string) (string, error) {
	v, ok := f.Files[path]
	if !ok {
		return "", &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return v, nil
}

func (f *FakeInspector) FileExists(path string) bool {
	_, ok := f.Files[path]
	return ok
}
