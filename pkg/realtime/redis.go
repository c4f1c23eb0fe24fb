package realtime

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/crmnotify/pkg/event"
)

// RedisBroker はRedisのPub/Subを介してイベントを全インスタンスへ中継する。
// 各インスタンスはRunで購読し、受信したイベントを自身のHubへ渡す。
type RedisBroker struct {
	// client はRedisクライアント。
	client *redis.Client
	// channel はイベントを流すPub/Subチャンネル名。
	channel string
}

// NewRedisBroker は新しいRedisBrokerを生成する。
func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
	}
}

// Publish はイベントをRedisのチャンネルへ発行する。
func (b *RedisBroker) Publish(ctx context.Context, ev *event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redisへのイベント発行に失敗: %w", err)
	}
	return nil
}

// Subscription は確立済みのRedis購読。
type Subscription struct {
	// pubsub はgo-redisの購読ハンドル。
	pubsub *redis.PubSub
}

// Subscribe はチャンネルを購読し、Redisが購読を確認するまで待つ。
// 戻った時点以降に発行されたイベントはForwardで受け取れる。
func (b *RedisBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("チャンネル %s の購読に失敗: %w", b.channel, err)
	}
	log.Printf("[Realtime] Redisチャンネルを購読しました: %s", b.channel)
	return &Subscription{pubsub: pubsub}, nil
}

// Forward は受信したイベントをlocalへ渡す。
// ctxがキャンセルされるまでブロックし、戻る前に購読を解除する。
func (s *Subscription) Forward(ctx context.Context, local Publisher) error {
	defer func() { _ = s.pubsub.Close() }()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := event.Unmarshal([]byte(msg.Payload))
			if err != nil {
				log.Printf("[Realtime] 不正なイベントを破棄: %v", err)
				continue
			}
			if err := local.Publish(ctx, ev); err != nil {
				log.Printf("[Realtime] ローカル配信に失敗 (user=%s): %v", ev.User, err)
			}
		}
	}
}

// Run はチャンネルを購読し、受信したイベントをlocalへ渡す。
// ctxがキャンセルされるまでブロックする。
func (b *RedisBroker) Run(ctx context.Context, local Publisher) error {
	sub, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	return sub.Forward(ctx, local)
}
