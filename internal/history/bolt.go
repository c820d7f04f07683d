package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/history.db"

	// 存储桶名称
	ListsBucket = "lists"
	KVBucket    = "kv"
)

// kvEnvelope 带过期时间的键值封装
type kvEnvelope struct {
	ExpiresAt int64           `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// BoltStore 基于bbolt的历史存储实现
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewBoltStore 打开bbolt历史存储
func NewBoltStore(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开历史数据库失败: %w", err)
	}

	store := &BoltStore{db: db, logger: logger, dbPath: dbPath}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("历史存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ListsBucket)); err != nil {
			return fmt.Errorf("创建列表存储桶失败: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(KVBucket)); err != nil {
			return fmt.Errorf("创建键值存储桶失败: %w", err)
		}
		return nil
	})
}

// readList 读出整个列表
func readList(bucket *bolt.Bucket, key string) ([][]byte, error) {
	data := bucket.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析列表失败: %w", err)
	}
	list := make([][]byte, len(raw))
	for i, r := range raw {
		list[i] = []byte(r)
	}
	return list, nil
}

// writeList 写回整个列表
func writeList(bucket *bolt.Bucket, key string, list [][]byte) error {
	raw := make([]json.RawMessage, len(list))
	for i, r := range list {
		raw[i] = json.RawMessage(r)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("序列化列表失败: %w", err)
	}
	return bucket.Put([]byte(key), data)
}

// ListPushFront 头插一条记录
func (s *BoltStore) ListPushFront(key string, record []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ListsBucket))
		if bucket == nil {
			return fmt.Errorf("列表存储桶不存在")
		}
		list, err := readList(bucket, key)
		if err != nil {
			return err
		}
		list = append([][]byte{record}, list...)
		return writeList(bucket, key, list)
	})
}

// ListTrim 裁剪列表到[start, stop]
func (s *BoltStore) ListTrim(key string, start, stop int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ListsBucket))
		if bucket == nil {
			return fmt.Errorf("列表存储桶不存在")
		}
		list, err := readList(bucket, key)
		if err != nil {
			return err
		}
		return writeList(bucket, key, trimSlice(list, start, stop))
	})
}

// ListRange 取[start, stop]范围的记录
func (s *BoltStore) ListRange(key string, start, stop int) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ListsBucket))
		if bucket == nil {
			return nil
		}
		list, err := readList(bucket, key)
		if err != nil {
			return err
		}
		out = trimSlice(list, start, stop)
		return nil
	})
	return out, err
}

// SetWithTTL 写入带过期时间的键值
func (s *BoltStore) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	envelope, err := json.Marshal(kvEnvelope{
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
		Value:     json.RawMessage(value),
	})
	if err != nil {
		return fmt.Errorf("序列化键值封装失败: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(KVBucket))
		if bucket == nil {
			return fmt.Errorf("键值存储桶不存在")
		}
		return bucket.Put([]byte(key), envelope)
	})
}

// Keys 按前缀列举未过期的键。过期键顺手删除（惰性清理）。
func (s *BoltStore) Keys(prefix string) ([]string, error) {
	now := time.Now().UnixMilli()
	var keys []string
	var expired [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(KVBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if !strings.HasPrefix(string(k), prefix) {
				return nil
			}
			var envelope kvEnvelope
			if err := json.Unmarshal(v, &envelope); err != nil {
				return nil
			}
			if envelope.ExpiresAt <= now {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		if err := s.deleteKeys(expired); err != nil {
			s.logger.Warnf("清理过期键失败: %v", err)
		}
	}
	return keys, nil
}

// deleteKeys 删除一批键值
func (s *BoltStore) deleteKeys(keys [][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(KVBucket))
		if bucket == nil {
			return nil
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close 关闭历史存储
func (s *BoltStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭历史存储")
		return s.db.Close()
	}
	return nil
}
