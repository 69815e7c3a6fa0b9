// Package idgen 提供雪花算法 ID 生成
package idgen

import (
	"strconv"
	"sync"
	"time"
)

// Snowflake 雪花算法 ID 生成器：timestamp(41 bits) + nodeID(10 bits) + sequence(12 bits)
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	sequence  int64
	nodeID    int64
	now       func() time.Time
}

// NewSnowflake 创建雪花 ID 生成器
func NewSnowflake(nodeID int64) *Snowflake {
	return &Snowflake{nodeID: nodeID & 0x3FF, now: time.Now}
}

// Generate 生成雪花 ID，同一毫秒内序列号耗尽时等待下一毫秒
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨时沿用上次时间戳
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & 0xFFF
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return (now << 22) | (s.nodeID << 12) | s.sequence
}

// NewID 生成带前缀的字符串 ID
func (s *Snowflake) NewID(prefix string) string {
	return prefix + strconv.FormatInt(s.Generate(), 10)
}

var defaultGen = NewSnowflake(1)

// GenID 使用默认节点生成 ID
func GenID() int64 {
	return defaultGen.Generate()
}

// NewID 使用默认节点生成带前缀的字符串 ID
func NewID(prefix string) string {
	return defaultGen.NewID(prefix)
}
