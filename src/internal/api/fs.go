package api

import (
	"io/fs"
	"net/http"
	"strings"
)

// hideDotFiles keeps .env, .git and friends out of responses and
// directory listings.
type hideDotFiles struct {
	http.FileSystem
}

func hasDotSegment(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (h hideDotFiles) Open(name string) (http.File, error) {
	if hasDotSegment(name) {
		return nil, fs.ErrNotExist
	}
	f, err := h.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	return dotFileHidingFile{f}, nil
}

type dotFileHidingFile struct {
	http.File
}

func (f dotFileHidingFile) Readdir(n int) ([]fs.FileInfo, error) {
	files, err := f.File.Readdir(n)
	visible := files[:0]
	for _, file := range files {
		if !strings.HasPrefix(file.Name(), ".") {
			visible = append(visible, file)
		}
	}
	return visible, err
}
