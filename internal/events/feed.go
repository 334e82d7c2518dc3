package events

import (
	"context"
	"sync"

	"github.com/langchou/ezpark/internal/models"
)

// Feed 保留最近 N 条状态变化，供客户端轮询增量
type Feed struct {
	mu     sync.RWMutex
	size   int
	events []models.SpotStateChanged
	seq    uint64
}

// NewFeed 创建变更缓冲
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1000
	}
	return &Feed{size: size, events: make([]models.SpotStateChanged, 0, size)}
}

// Run 消费订阅通道直到关闭或 ctx 结束
func (f *Feed) Run(ctx context.Context, ch <-chan models.SpotStateChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.Add(ev)
		}
	}
}

// Add 追加事件并分配序号
func (f *Feed) Add(ev models.SpotStateChanged) models.SpotStateChanged {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	ev.Seq = f.seq
	if len(f.events) == f.size {
		copy(f.events, f.events[1:])
		f.events = f.events[:f.size-1]
	}
	f.events = append(f.events, ev)
	return ev
}

// Since 返回序号大于 since 的事件
//
// truncated 为 true 表示中间有事件已被淘汰，客户端应重新拉取全量状态。
func (f *Feed) Since(since uint64, limit int) (events []models.SpotStateChanged, latest uint64, truncated bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	latest = f.seq
	if len(f.events) == 0 || since >= latest {
		return []models.SpotStateChanged{}, latest, false
	}

	oldest := f.events[0].Seq
	truncated = since+1 < oldest

	start := 0
	if since >= oldest {
		start = int(since - oldest + 1)
	}
	events = append([]models.SpotStateChanged(nil), f.events[start:]...)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, latest, truncated
}
