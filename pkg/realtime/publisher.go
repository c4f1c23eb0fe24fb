package realtime

import (
	"context"

	"github.com/nao1215/crmnotify/pkg/event"
)

// Publisher はイベントを配信先ユーザーのセッションへ送る。
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// PublisherFunc は関数をPublisherとして扱うためのアダプタ。
type PublisherFunc func(ctx context.Context, ev *event.Event) error

// Publish はf(ctx, ev)を呼び出す。
func (f PublisherFunc) Publish(ctx context.Context, ev *event.Event) error {
	return f(ctx, ev)
}
