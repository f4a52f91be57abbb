package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
)

// Entry 一个受支持的收件域名及其维护者
type Entry struct {
	Owner  string `yaml:"owner" json:"owner"`
	Domain string `yaml:"domain" json:"domain"`
}

type fileFormat struct {
	Domains []Entry `yaml:"domains"`
}

// DefaultEntries 未提供任何域名配置时使用的内置列表
var DefaultEntries = []Entry{
	{Owner: "vwh", Domain: "barid.site"},
	{Owner: "vwh", Domain: "vwh.sh"},
	{Owner: "vwh", Domain: "iusearch.lol"},
	{Owner: "mm6x", Domain: "lifetalk.us"},
	{Owner: "z44d", Domain: "z44d.pro"},
	{Owner: "blockton", Domain: "wael.fun"},
	{Owner: "HprideH", Domain: "tawbah.site"},
	{Owner: "HprideH", Domain: "kuruptd.ink"},
	{Owner: "oxno1", Domain: "oxno1.space"},
}

// Directory 收件域名目录，并发安全，可在文件变化时热加载
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	file    string
	inline  []string
	logger  *zap.Logger
}

var _ domain.Directory = (*Directory)(nil)

// New 创建域名目录
//
// 参数:
//   - cfg: 域名配置，File 为 YAML 文件路径，List 为额外的域名
//   - logger: 日志记录器
//
// 返回值:
//   - *Directory: 目录实例
//   - error: 文件读取或解析失败
func New(cfg config.DomainsConfig, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		file:   cfg.File,
		inline: cfg.List,
		logger: logger.Named("directory"),
	}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStatic 使用固定条目创建目录，条目为空时使用 DefaultEntries
func NewStatic(entries ...Entry) *Directory {
	if len(entries) == 0 {
		entries = DefaultEntries
	}
	d := &Directory{logger: zap.NewNop()}
	d.entries = index(entries)
	return d
}

// Reload 重新读取配置文件；解析失败时保留原有域名集合
func (d *Directory) Reload() error {
	var entries []Entry
	if d.file != "" {
		loaded, err := loadFile(d.file)
		if err != nil {
			return err
		}
		entries = append(entries, loaded...)
	}
	for _, name := range d.inline {
		entries = append(entries, Entry{Domain: name})
	}
	if len(entries) == 0 {
		entries = DefaultEntries
	}

	idx := index(entries)
	d.mu.Lock()
	d.entries = idx
	d.mu.Unlock()

	d.logger.Info("domain directory loaded", zap.Int("domains", len(idx)), zap.String("file", d.file))
	return nil
}

func loadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse domains file: %w", err)
	}
	return f.Domains, nil
}

func index(entries []Entry) map[string]Entry {
	idx := make(map[string]Entry, len(entries))
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Domain))
		if name == "" || !domain.ValidateDomain(name) {
			continue
		}
		e.Domain = name
		idx[name] = e
	}
	return idx
}

// IsSupportedDomain 大小写不敏感地判断域名是否受支持
func (d *Directory) IsSupportedDomain(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[name]
	return ok
}

// IsSupportedAddress 按最后一个 @ 取域名后判断
func (d *Directory) IsSupportedAddress(addr string) bool {
	name := domain.DomainOf(domain.NormalizeAddress(addr))
	if name == "" {
		return false
	}
	return d.IsSupportedDomain(name)
}

// ListDomains 返回排序后的域名列表
func (d *Directory) ListDomains() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for name := range d.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries 返回按域名排序的完整条目
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Watch 监听配置文件所在目录，文件被写入或替换时重新加载，直到 ctx 结束
//
// 未配置文件时立即返回 nil。
func (d *Directory) Watch(ctx context.Context) error {
	if d.file == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// 监听目录而不是文件，编辑器通常以重命名方式保存
	if err := watcher.Add(filepath.Dir(d.file)); err != nil {
		return fmt.Errorf("watch %s: %w", d.file, err)
	}
	target := filepath.Clean(d.file)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := d.Reload(); err != nil {
				d.logger.Warn("failed to reload domains, keeping previous set", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("domain watcher error", zap.Error(err))
		}
	}
}
