package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor は保持期間を過ぎた既読通知を定期的に削除する。
type Janitor struct {
	// store は削除対象の通知ストア。
	store *Store
	// cron はジョブのスケジューラ。
	cron *cron.Cron
	// retention は既読通知を保持する期間。
	retention time.Duration
	// now は現在時刻を返す。
	now func() time.Time
}

// NewJanitor はscheduleのcron式で削除ジョブを登録したJanitorを生成する。
// "@daily" のような記述子も使える。
func NewJanitor(store *Store, schedule string, retention time.Duration) (*Janitor, error) {
	j := &Janitor{
		store:     store,
		cron:      cron.New(),
		retention: retention,
		now:       time.Now,
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Purge(context.Background()); err != nil {
			log.Printf("[Janitor] 既読通知の削除に失敗: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("削除ジョブの登録に失敗 (schedule=%q): %w", schedule, err)
	}
	return j, nil
}

// Start はスケジューラを開始する。
func (j *Janitor) Start() {
	j.cron.Start()
	log.Printf("[Janitor] 既読通知の削除ジョブを開始しました: retention=%s", j.retention)
}

// Stop はスケジューラを停止し、実行中のジョブの完了を待つ。
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Purge は保持期間を過ぎた既読通知を削除し、削除件数を返す。
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Janitor] 既読通知を削除しました: %d件 (cutoff=%s)", n, cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}
