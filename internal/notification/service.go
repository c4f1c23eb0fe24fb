package notification

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/crmnotify/pkg/event"
	"github.com/nao1215/crmnotify/pkg/realtime"
)

// Service は通知の作成と、保存後のリアルタイム配信を担う。
type Service struct {
	// store は通知の永続化層。
	store *Store
	// publisher は受信者のセッションへイベントを送る配信先。
	publisher realtime.Publisher
}

// NewService は新しいServiceを生成する。
// 生成されるStoreの挿入・更新フックとしてService自身が登録される。
func NewService(db *sqlx.DB, publisher realtime.Publisher) *Service {
	s := &Service{publisher: publisher}
	s.store = NewStore(db, s)
	return s
}

// Store は通知の永続化層を返す。
func (s *Service) Store() *Store {
	return s.store
}

// OnRecordInserted は通知の挿入後に呼ばれ、受信者への配信をコミット後に予約する。
func (s *Service) OnRecordInserted(ctx context.Context, tx *Tx, r *Record) {
	s.notifyAfterCommit(ctx, tx, r)
}

// OnRecordUpdated は通知の更新後に呼ばれ、受信者への配信をコミット後に予約する。
func (s *Service) OnRecordUpdated(ctx context.Context, tx *Tx, r *Record) {
	s.notifyAfterCommit(ctx, tx, r)
}

// notifyAfterCommit はToUserが空でなければcrm_notificationイベントの配信を予約する。
// 配信に失敗しても保存済みの通知には影響させない。
func (s *Service) notifyAfterCommit(ctx context.Context, tx *Tx, r *Record) {
	if r.ToUser == "" {
		return
	}

	user := r.ToUser
	// リクエストのキャンセルで配信が打ち切られないようにする
	pubCtx := context.WithoutCancel(ctx)
	data := event.NotificationData{
		Name:     r.ID,
		Type:     r.Type,
		FromUser: r.FromUser,
		Read:     r.Read,
	}

	tx.AfterCommit(func() {
		ev, err := event.New(event.NameCRMNotification, user, data)
		if err != nil {
			log.Printf("[Notification] イベントの生成に失敗 (user=%s): %v", user, err)
			return
		}
		if err := s.publisher.Publish(pubCtx, ev); err != nil {
			log.Printf("[Notification] リアルタイム配信に失敗 (user=%s): %v", user, err)
		}
	})
}

// CreateFromAssignment は割り当て変更から通知を作成する。
// 自分自身への割り当てと、同じ内容の通知が既にある場合は何もしない。
func (s *Service) CreateFromAssignment(ctx context.Context, args AssignmentArgs) error {
	if args.IsSelfAssignment() {
		log.Printf("[Notification] 自分自身への割り当てのため通知しません: user=%s", args.Owner)
		return nil
	}

	r := args.Record()
	created := false
	err := s.store.InTx(ctx, func(tx *Tx) error {
		exists, err := s.store.Exists(ctx, tx, r)
		if err != nil {
			return err
		}
		if exists {
			log.Printf("[Notification] 同じ内容の通知が既に存在します: to=%s doc=%s", r.ToUser, r.NotificationTypeDoc)
			return nil
		}
		if err := s.store.Insert(ctx, tx, r); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("割り当て通知の作成に失敗: %w", err)
	}
	if created {
		log.Printf("[Notification] 通知を作成しました: id=%s from=%s to=%s", r.ID, r.FromUser, r.ToUser)
	}
	return nil
}
