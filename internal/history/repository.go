package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sentinel/pkg/models"

	"github.com/sirupsen/logrus"
)

// Repository 历史存储之上的扫描记录仓库。
// 同一地址的写经地址锁串行，保证裁剪与TTL一致。
type Repository struct {
	store   Store
	locks   *AddressLocks
	logger  *logrus.Logger
	listCap int
	ttl     time.Duration
}

// NewRepository 创建扫描记录仓库
func NewRepository(store Store, logger *logrus.Logger, listCap, ttlDays int) *Repository {
	if listCap <= 0 {
		listCap = models.HistoryListCap
	}
	if ttlDays <= 0 {
		ttlDays = models.ScanRecordTTLDays
	}
	return &Repository{
		store:   store,
		locks:   NewAddressLocks(),
		logger:  logger,
		listCap: listCap,
		ttl:     time.Duration(ttlDays) * 24 * time.Hour,
	}
}

func historyKey(address string) string {
	return "history:" + address
}

func scanKey(address string, timestampMs uint64) string {
	return "scan:" + address + ":" + strconv.FormatUint(timestampMs, 10)
}

// Append 追加一条扫描记录：头插、裁剪到容量上限、另写带TTL的单条键
func (r *Repository) Append(record *models.ScanRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化扫描记录失败: %w", err)
	}

	unlock := r.locks.Lock(record.Address)
	defer unlock()

	if err := r.store.ListPushFront(historyKey(record.Address), data); err != nil {
		return fmt.Errorf("写入扫描记录失败: %w", err)
	}
	if err := r.store.ListTrim(historyKey(record.Address), 0, r.listCap-1); err != nil {
		return fmt.Errorf("裁剪扫描历史失败: %w", err)
	}
	if err := r.store.SetWithTTL(scanKey(record.Address, record.TimestampMs), data, r.ttl); err != nil {
		// TTL键只服务离线巡检，写失败不影响主链路
		r.logger.Warnf("写入TTL扫描键失败: %v", err)
	}
	return nil
}

// Latest 最近一条扫描记录，无历史时返回nil
func (r *Repository) Latest(address string) (*models.ScanRecord, error) {
	records, err := r.Recent(address, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Recent 最近n条扫描记录，新在前
func (r *Repository) Recent(address string, n int) ([]*models.ScanRecord, error) {
	if n <= 0 {
		n = r.listCap
	}
	raw, err := r.store.ListRange(historyKey(address), 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("读取扫描历史失败: %w", err)
	}

	records := make([]*models.ScanRecord, 0, len(raw))
	for _, data := range raw {
		var record models.ScanRecord
		if err := json.Unmarshal(data, &record); err != nil {
			r.logger.Warnf("跳过损坏的扫描记录: %v", err)
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}
