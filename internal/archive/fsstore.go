package archive

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeNamespaceChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FSStore archives messages as plain .eml files, one directory per
// namespace. Files are synced to disk before the location key is returned.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) Store(ctx context.Context, raw []byte, namespace string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}

	dir := filepath.Join(s.root, unsafeNamespaceChars.ReplaceAllString(namespace, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}

	key := newKey()
	dest := filepath.Join(dir, key)

	// Write to a temp name first so a crash never leaves a half message
	// under its final name.
	tmp, err := os.CreateTemp(dir, key+".tmp")
	if err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", &WriteError{Namespace: namespace, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &WriteError{Namespace: namespace, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}
	// The rename is durable only once the directory entry itself is synced.
	if err := syncDir(dir); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}

	return key, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
