// Package storage keeps chat attachments and group images on the local filesystem.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const chatDir = "chat"

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrInvalidTenant = errors.New("invalid tenant directory")
)

var tenantDir = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileStore resolves stored names such as "chat/<uuid>.png" under root/<tenant>.
// A name never reaches outside its tenant's directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Copy duplicates a stored file under a fresh chat name in the same tenant
// directory and returns that name.
func (s *FileStore) Copy(ctx context.Context, tenantID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := s.resolve(tenantID, name)
	if err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrap(err, "open source file")
	}
	defer in.Close()

	newName := path.Join(chatDir, uuid.NewString()+path.Ext(name))
	dst, _ := s.resolve(tenantID, newName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "create chat dir")
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrap(err, "create copy")
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", errors.Wrap(err, "copy file")
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "close copy")
	}
	return newName, nil
}

// Exists reports whether name is a regular file of the tenant.
func (s *FileStore) Exists(ctx context.Context, tenantID, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.resolve(tenantID, name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "stat file")
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes a stored file. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, tenantID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove file")
	}
	return nil
}

// resolve maps a stored name or URL path onto root/<tenant> and refuses escapes.
func (s *FileStore) resolve(tenantID, name string) (string, error) {
	if !tenantDir.MatchString(tenantID) {
		return "", errors.Wrapf(ErrInvalidTenant, "%q", tenantID)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidPath
	}
	if strings.Contains(name, "..") || strings.Contains(name, `\`) {
		return "", errors.Wrapf(ErrInvalidPath, "%q", name)
	}
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, tenantID, filepath.FromSlash(clean)), nil
}
