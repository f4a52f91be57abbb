package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// metaDir 元数据目录，与对象树同构，每个对象对应 {key}.json
	metaDir = ".meta"
	// tmpDir 原子写入使用的临时目录，与对象位于同一文件系统
	tmpDir = ".tmp"
	// metaExt 元数据文件扩展名
	metaExt = ".json"
)

// validateKey 校验对象键，拒绝空段、路径遍历、绝对路径以及保留目录
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if len(key) > 1024 {
		return fmt.Errorf("object key too long: %d characters", len(key))
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || strings.ContainsRune(key, 0) {
		return fmt.Errorf("invalid object key: %q", key)
	}
	segs := strings.Split(key, "/")
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("path traversal detected: %q", key)
		}
	}
	if segs[0] == metaDir || segs[0] == tmpDir {
		return fmt.Errorf("reserved object key prefix: %q", key)
	}
	return nil
}

// keyToPath 把对象键映射为根目录下的文件路径
func (s *Store) keyToPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// metaPath 返回对象元数据文件路径，调用方需先校验 key
func (s *Store) metaPath(key string) string {
	return filepath.Join(s.basePath, metaDir, filepath.FromSlash(key)+metaExt)
}

// pathToKey 把根目录下的文件路径还原为对象键
func (s *Store) pathToKey(path string) (string, error) {
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// isReservedDir 判断路径是否为根目录下的保留目录
func (s *Store) isReservedDir(path string) bool {
	return path == filepath.Join(s.basePath, metaDir) || path == filepath.Join(s.basePath, tmpDir)
}

// normalizeBase 转换为绝对路径并清理
func normalizeBase(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// pruneEmptyDirs 自下而上删除空目录，直到 stop 为止（stop 本身保留）
func pruneEmptyDirs(stop, dir string) {
	for dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
