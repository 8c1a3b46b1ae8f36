package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"
)

const DefaultTTL = 3600 * time.Second

// Storage 接口定义了已验证代理快照的持久化行为。
type Storage interface {
	// Load 返回仍然新鲜的快照；缓存未命中时返回 (nil, nil)。
	Load() (*model.Snapshot, error)
	Save(proxies []*model.ValidatedProxy) error
	Clear() error
}

// FileCache 实现了 Storage 接口，使用 JSON 文件保存带时间戳的快照。
// 文件不存在、无法解析或已过期都视为未命中，从不部分信任。
type FileCache struct {
	filePath string
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// NewFileCache 创建一个新的 FileCache 实例。ttl <= 0 时使用默认值 3600 秒。
func NewFileCache(filePath string, ttl time.Duration) *FileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileCache{
		filePath: filePath,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (fc *FileCache) Path() string { return fc.filePath }

// Load 从缓存文件加载快照。
func (fc *FileCache) Load() (*model.Snapshot, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Cache")

	data, err := os.ReadFile(fc.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.Info().Str("path", fc.filePath).Msg("Proxy cache file not found.")
		} else {
			l.Warn().Err(err).Str("path", fc.filePath).Msg("Failed to read proxy cache, treating as miss.")
		}
		return nil, nil
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		l.Warn().Err(err).Str("path", fc.filePath).Msg("Proxy cache is corrupt, treating as miss.")
		return nil, nil
	}
	if snap.CapturedAt.IsZero() {
		l.Warn().Str("path", fc.filePath).Msg("Proxy cache has no timestamp, treating as miss.")
		return nil, nil
	}

	age := snap.Age(fc.now())
	if age >= fc.ttl {
		l.Info().Dur("age", age).Dur("ttl", fc.ttl).Msg("Proxy cache expired.")
		return nil, nil
	}

	l.Info().Int("count", len(snap.Proxies)).Dur("age", age).Msg("Loaded proxies from cache.")
	return &snap, nil
}

// Save 原子地覆盖快照：先写入同目录下的临时文件，再 rename。
func (fc *FileCache) Save(proxies []*model.ValidatedProxy) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Cache")

	data, err := json.MarshalIndent(model.Snapshot{CapturedAt: fc.now(), Proxies: proxies}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode proxy cache: %w", err)
	}

	dir := filepath.Dir(fc.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(fc.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fc.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	l.Info().Int("count", len(proxies)).Str("path", fc.filePath).Msg("Saved proxies to cache.")
	return nil
}

// Clear 删除缓存文件；文件本就不存在时不报错。
func (fc *FileCache) Clear() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.Remove(fc.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l := logger.WithComponent("ProxyPool/Cache")
	l.Info().Str("path", fc.filePath).Msg("Proxy cache cleared.")
	return nil
}
