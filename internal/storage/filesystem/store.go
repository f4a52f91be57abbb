package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"barid/backend/internal/domain"
)

// Store 文件系统对象存储实现
//
// 对象键映射为根目录下的相对路径，内容类型与原始文件名保存在 .meta 目录下的同名 JSON 文件中，
// 写入时的临时文件放在 .tmp 目录。两个保留目录不会出现在对象键空间里。
type Store struct {
	basePath string // 对象存储根目录
}

var _ domain.ObjectStore = (*Store)(nil)

// objectMeta 旁路元数据
type objectMeta struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	SavedAt     string `json:"savedAt"`
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	normalized, err := normalizeBase(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	// 确保基础目录和临时目录存在
	if err := os.MkdirAll(filepath.Join(normalized, tmpDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{basePath: normalized}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Put 写入对象内容和元数据
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if err := s.writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	meta, _ := json.MarshalIndent(objectMeta{
		Key:         key,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	metaPath := s.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := s.writeFileAtomic(metaPath, meta); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	return nil
}

// Get 读取对象，不存在时返回 domain.ErrObjectNotFound
func (s *Store) Get(ctx context.Context, key string) (*domain.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.keyToPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	obj := &domain.Object{Key: key, Data: data, Size: int64(len(data))}

	// 元数据缺失时仍返回内容
	if raw, err := os.ReadFile(s.metaPath(key)); err == nil {
		var meta objectMeta
		if json.Unmarshal(raw, &meta) == nil {
			obj.ContentType = meta.ContentType
			obj.Filename = meta.Filename
		}
	}
	return obj, nil
}

// Delete 删除对象及其元数据，不存在时不报错
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyToPath(key)
	if err != nil {
		return err
	}
	metaPath := s.metaPath(key)
	for _, p := range []string{path, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete object: %w", err)
		}
	}
	pruneEmptyDirs(s.basePath, filepath.Dir(path))
	pruneEmptyDirs(filepath.Join(s.basePath, metaDir), filepath.Dir(metaPath))
	return nil
}

// ListByPrefix 列出以 prefix 开头的全部对象键（已排序）
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	// 从前缀的目录部分开始遍历
	root := s.basePath
	if idx := strings.LastIndex(prefix, "/"); idx > 0 {
		dir := prefix[:idx]
		if err := validateKey(dir); err != nil {
			return nil, err
		}
		root = filepath.Join(s.basePath, filepath.FromSlash(dir))
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if s.isReservedDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		key, err := s.pathToKey(path)
		if err != nil {
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipDir) {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// writeFileAtomic 先在临时目录写入再重命名到目标路径
func (s *Store) writeFileAtomic(path string, data []byte) error {
	dir := filepath.Join(s.basePath, tmpDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
