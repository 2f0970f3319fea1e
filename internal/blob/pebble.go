package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	dataPrefix = "blob:"
	typePrefix = "type:"
)

// PebbleStore 内嵌附件存储，对象通过 /media/<key> 对外提供
type PebbleStore struct {
	db      *pebble.DB
	baseURL string
}

// OpenPebble 打开磁盘上的 pebble 存储
func OpenPebble(path, publicBaseURL string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// OpenPebbleMem 内存文件系统上的 pebble，测试使用
func OpenPebbleMem(publicBaseURL string) (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Put 写入对象，数据与内容类型在同一批次中提交
func (s *PebbleStore) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(dataPrefix+key), data, nil); err != nil {
		return "", err
	}
	if err := b.Set([]byte(typePrefix+key), []byte(contentType), nil); err != nil {
		return "", err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("pebble commit: %w", err)
	}
	return s.URL(key), nil
}

// Get 读取对象
func (s *PebbleStore) Get(key string) (*Object, error) {
	data, err := s.get(dataPrefix + key)
	if err != nil {
		return nil, err
	}
	ct, err := s.get(typePrefix + key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &Object{Data: data, ContentType: string(ct)}, nil
}

func (s *PebbleStore) get(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// URL 对象的访问地址
func (s *PebbleStore) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/media/" + strings.Join(parts, "/")
}

// Ping 健康检查
func (s *PebbleStore) Ping() error {
	_, err := s.get(dataPrefix + "__ping__")
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Close 关闭存储
func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
