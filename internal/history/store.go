package history

import (
	"strings"
	"sync"
	"time"
)

// Store 历史存储端口。核心只依赖这组操作；
// 键形如 history:<address>（列表）与 scan:<address>:<timestamp_ms>（带TTL的字符串）。
type Store interface {
	ListPushFront(key string, record []byte) error
	ListTrim(key string, start, stop int) error
	ListRange(key string, start, stop int) ([][]byte, error)
	SetWithTTL(key string, value []byte, ttl time.Duration) error
	Keys(prefix string) ([]string, error)
	Close() error
}

// AddressLocks 地址粒度的互斥锁。同一地址的写必须串行，
// 保证列表裁剪与TTL一致；不同地址互不阻塞。
type AddressLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAddressLocks 创建地址锁表
func NewAddressLocks() *AddressLocks {
	return &AddressLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock 锁住一个地址，返回解锁函数
func (a *AddressLocks) Lock(address string) func() {
	a.mu.Lock()
	lock, ok := a.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[address] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// MemoryStore 内存实现，测试与单机临时运行用
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string][][]byte
	kv    map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: make(map[string][][]byte),
		kv:    make(map[string]memEntry),
	}
}

// ListPushFront 头插一条记录
func (m *MemoryStore) ListPushFront(key string, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), record...)
	m.lists[key] = append([][]byte{cp}, m.lists[key]...)
	return nil
}

// ListTrim 裁剪列表到[start, stop]（含两端）
func (m *MemoryStore) ListTrim(key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = trimSlice(m.lists[key], start, stop)
	return nil
}

// ListRange 取[start, stop]范围的记录，stop为-1表示到末尾
func (m *MemoryStore) ListRange(key string, start, stop int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return trimSlice(m.lists[key], start, stop), nil
}

// SetWithTTL 写入带过期时间的键值
func (m *MemoryStore) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Keys 按前缀列举未过期的键
func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var keys []string
	for k, e := range m.kv {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close 关闭存储
func (m *MemoryStore) Close() error {
	return nil
}

// trimSlice 按[start, stop]（含两端，负stop表示直到末尾）截取
func trimSlice(list [][]byte, start, stop int) [][]byte {
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= len(list) {
		stop = len(list) - 1
	}
	if start > stop || start >= len(list) {
		return nil
	}
	out := make([][]byte, stop-start+1)
	copy(out, list[start:stop+1])
	return out
}
