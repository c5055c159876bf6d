package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 【为什么需要分布式ID？】
//
// 订单号要求：
//   1. 全局唯一 - 不能重复
//   2. 趋势递增 - 便于数据库索引
//   3. 高性能 - 支持高并发生成
//   4. 信息隐藏 - 不暴露业务量
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器，只有第一次调用生效
func Init(workerID int64) error {
	if workerID < 0 || workerID > maxWorkerID {
		return errors.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	once.Do(func() {
		defaultGenerator = &Snowflake{workerID: workerID}
	})
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	_ = Init(1) // 未初始化时默认使用 workerID = 1
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		// 不同毫秒，序列号重置
		s.sequence = 0
	}

	s.timestamp = now

	// 组装ID
	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

// OrderIDPrefix 当天订单号前缀：ORD + YYYYMMDD
func OrderIDPrefix(day time.Time) string {
	return "ORD" + day.Format("20060102")
}

// FormatOrderID 生成订单号：ORD + YYYYMMDD + 当日序号（至少3位）
// 例如：ORD20261018001
//
// 序号来自数据库中当天已有订单的计数，并发时可能重复，
// 由 order_id 唯一索引兜底，冲突后重新计数重试。
func FormatOrderID(day time.Time, seq int) string {
	return fmt.Sprintf("%s%03d", OrderIDPrefix(day), seq)
}

// GeneratePaymentID 生成支付单号
// 格式：PAY + 年月日时分秒 + 雪花ID后8位
// 例如：PAY2026101814305212345678
func GeneratePaymentID() string {
	return generate("PAY")
}

// GenerateRefundID 生成退款单号
func GenerateRefundID() string {
	return generate("REF")
}

func generate(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}
