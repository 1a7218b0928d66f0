// Package blob はファイル本体を保存するBlobStoreの実装を提供する
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// LocalStore はローカルディスク上のディレクトリをBlobStoreとして扱う
type LocalStore struct {
	root string
}

// NewLocalStore は root 配下にファイルを保存する LocalStore を作成する
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.Wrap(domain.ErrBlobConnection, "blob init", err)
	}
	return &LocalStore{root: abs}, nil
}

// Get はキーに対応するファイルを読み込む
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, normalizeError("blob get", err)
	}
	return data, nil
}

// Put はファイルを新規に書き込む。既に存在する場合は ErrBlobExists
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return normalizeError("blob put", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return normalizeError("blob put", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return normalizeError("blob put", err)
	}
	return normalizeError("blob put", f.Close())
}

// Delete はファイルを削除する
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return normalizeError("blob delete", os.Remove(path))
}

// resolve はキーを root 配下のパスに変換する。root の外を指すキーは拒否する
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", apperr.Wrap(domain.ErrBlobForbidden, "blob resolve", fmt.Errorf("empty key"))
	}
	path := filepath.Join(s.root, clean)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", apperr.Wrap(domain.ErrBlobForbidden, "blob resolve", fmt.Errorf("key %q escapes root", key))
	}
	return path, nil
}

// normalizeError はOSのエラーを exists / forbidden / not_found / connection_error に正規化する
func normalizeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return apperr.Wrap(domain.ErrBlobExists, op, err)
	case errors.Is(err, fs.ErrPermission):
		return apperr.Wrap(domain.ErrBlobForbidden, op, err)
	case errors.Is(err, fs.ErrNotExist):
		return apperr.Wrap(domain.ErrBlobNotFound, op, err)
	default:
		return apperr.Wrap(domain.ErrBlobConnection, op, err)
	}
}

var _ domain.BlobStore = (*LocalStore)(nil)
