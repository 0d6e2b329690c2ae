package source

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stratum/pkg/composeerr"
	"stratum/pkg/value"
)

// FileSource resolves configs from a directory tree on disk: a name
// without an extension is looked up as "<name>.yaml" (or ".yml"), and a
// bare directory is a group.
type FileSource struct {
	Root string
}

// NewFileSource returns a FileSource rooted at root. root need not exist yet;
// Available() reports false until it does.
func NewFileSource(root string) *FileSource {
	return &FileSource{Root: root}
}

func (f *FileSource) Scheme() string { return "file" }

func (f *FileSource) Available() bool {
	info, err := os.Stat(f.Root)
	return err == nil && info.IsDir()
}

func (f *FileSource) resolvePath(name string) string {
	p := filepath.Join(f.Root, filepath.FromSlash(name))
	if !strings.HasSuffix(p, ".yaml") && !strings.HasSuffix(p, ".yml") {
		p += ".yaml"
	}
	return p
}

func (f *FileSource) Load(name string) (*value.Document, error) {
	path := f.resolvePath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &composeerr.ConfigLoadError{Name: name, Path: path, Err: err}
	}
	doc, err := value.DecodeDocument(data)
	if err != nil {
		return nil, &composeerr.ConfigLoadError{Name: name, Path: path, Err: err}
	}
	return doc, nil
}

func (f *FileSource) List(groupPath string) ([]string, error) {
	dir := filepath.Join(f.Root, filepath.FromSlash(groupPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &composeerr.ConfigLoadError{Name: groupPath, Path: dir, Err: err}
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			names = append(names, name)
			continue
		}
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		} else if strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(name, ".yml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileSource) IsGroup(path string) bool {
	info, err := os.Stat(filepath.Join(f.Root, filepath.FromSlash(path)))
	return err == nil && info.IsDir()
}

func (f *FileSource) IsConfig(path string) bool {
	_, err := os.Stat(f.resolvePath(path))
	return err == nil
}
