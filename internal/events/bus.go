// Package events 车位状态变化事件的发布与订阅
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/models"
)

// TopicStateChanged 车位状态变化主题
const TopicStateChanged = "spot.state_changed"

// Bus 进程内事件总线
//
// 每个订阅者独立收到全部事件，互不影响。
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus 创建事件总线
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, NewZapAdapter(logger)),
		logger: logger,
	}
}

// PublishStateChanged 发布状态变化
func (b *Bus) PublishStateChanged(ctx context.Context, ev models.SpotStateChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal state change: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("spot_id", ev.SpotID.String())
	msg.Metadata.Set("state", string(ev.State))
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(TopicStateChanged, msg); err != nil {
		return fmt.Errorf("publish state change: %w", err)
	}
	return nil
}

// Subscribe 订阅状态变化，ctx 结束时通道关闭
func (b *Bus) Subscribe(ctx context.Context) (<-chan models.SpotStateChanged, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicStateChanged)
	if err != nil {
		return nil, fmt.Errorf("subscribe state changes: %w", err)
	}

	out := make(chan models.SpotStateChanged, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev models.SpotStateChanged
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("Dropping malformed state change", zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close 关闭总线，所有订阅通道随之关闭
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
