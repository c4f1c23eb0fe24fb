package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Hooks は通知の挿入・更新後、同じトランザクション内で呼び出される。
// 副作用をコミット後に遅らせたい場合はTx.AfterCommitで登録する。
type Hooks interface {
	OnRecordInserted(ctx context.Context, tx *Tx, r *Record)
	OnRecordUpdated(ctx context.Context, tx *Tx, r *Record)
}

// Tx は通知ストアのトランザクション。
type Tx struct {
	tx          *sqlx.Tx
	afterCommit []func()
}

// AfterCommit はコミット成功後に実行する処理を登録する。
// ロールバックされた場合は実行されない。
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// Store はcrm_notificationsテーブルへのアクセスを提供する。
type Store struct {
	// db はデータベース接続。
	db *sqlx.DB
	// hooks は挿入・更新時に呼び出されるライフサイクルフック。
	hooks Hooks
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。hooksがnilの場合フックは呼ばれない。
func NewStore(db *sqlx.DB, hooks Hooks) *Store {
	return &Store{
		db:    db,
		hooks: hooks,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// InTx はfnをトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、成功した場合はコミット後に
// AfterCommitで登録された処理を登録順に実行する。
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}

	for _, f := range tx.afterCommit {
		f()
	}
	return nil
}

const selectColumns = `SELECT id, from_user, to_user, type, message, notification_text,
	notification_type_doctype, notification_type_doc, reference_doctype, reference_name,
	is_read, created_at, updated_at
FROM crm_notifications`

// existsQuery は通知内容のすべての項目が一致するレコードを探す。
const existsQuery = `SELECT EXISTS (
	SELECT 1 FROM crm_notifications
	WHERE from_user = :from_user
	  AND to_user = :to_user
	  AND type = :type
	  AND message = :message
	  AND notification_text = :notification_text
	  AND notification_type_doctype = :notification_type_doctype
	  AND notification_type_doc = :notification_type_doc
	  AND reference_doctype = :reference_doctype
	  AND reference_name = :reference_name
)`

const insertQuery = `INSERT INTO crm_notifications (
	id, from_user, to_user, type, message, notification_text,
	notification_type_doctype, notification_type_doc, reference_doctype, reference_name,
	is_read, created_at, updated_at
) VALUES (
	:id, :from_user, :to_user, :type, :message, :notification_text,
	:notification_type_doctype, :notification_type_doc, :reference_doctype, :reference_name,
	:is_read, :created_at, :updated_at
)`

// Exists は通知内容（ID・既読状態・日時以外）が完全に一致するレコードがあるかを返す。
func (s *Store) Exists(ctx context.Context, tx *Tx, r *Record) (bool, error) {
	query, args, err := sqlx.Named(existsQuery, r)
	if err != nil {
		return false, fmt.Errorf("重複検索クエリの構築に失敗: %w", err)
	}

	var exists bool
	if err := tx.tx.GetContext(ctx, &exists, tx.tx.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("重複検索に失敗: %w", err)
	}
	return exists, nil
}

// Insert は通知を保存し、挿入フックを呼び出す。
// IDと日時はここで設定される。呼び出し元の権限は確認しない。
func (s *Store) Insert(ctx context.Context, tx *Tx, r *Record) error {
	now := s.now()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now

	if _, err := tx.tx.NamedExecContext(ctx, insertQuery, r); err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}

	if s.hooks != nil {
		s.hooks.OnRecordInserted(ctx, tx, r)
	}
	return nil
}

// Get はIDで通知を取得する。
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.db.GetContext(ctx, &r, s.db.Rebind(selectColumns+" WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, err)
	}
	return &r, nil
}

// ListByUser はユーザー宛ての通知を新しい順に返す。
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	records := []Record{}
	err := s.db.SelectContext(ctx, &records,
		s.db.Rebind(selectColumns+" WHERE to_user = ? ORDER BY created_at DESC, id DESC"), userID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return records, nil
}

// ListUnreadByUser はユーザー宛ての未読通知を新しい順に返す。
func (s *Store) ListUnreadByUser(ctx context.Context, userID string) ([]Record, error) {
	records := []Record{}
	err := s.db.SelectContext(ctx, &records,
		s.db.Rebind(selectColumns+" WHERE to_user = ? AND is_read = ? ORDER BY created_at DESC, id DESC"), userID, false)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return records, nil
}

// MarkAsRead はuserID宛ての通知を既読にし、更新フックを呼び出す。
// 既に既読の場合は更新しない。
func (s *Store) MarkAsRead(ctx context.Context, id, userID string) (*Record, error) {
	var r Record
	err := s.InTx(ctx, func(tx *Tx) error {
		err := tx.tx.GetContext(ctx, &r, tx.tx.Rebind(selectColumns+" WHERE id = ?"), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, err)
		}
		if r.ToUser != userID {
			return ErrForbidden
		}
		if r.Read {
			return nil
		}
		return s.markRead(ctx, tx, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkAllAsRead はuserID宛ての未読通知をすべて既読にし、1件ごとに更新フックを呼び出す。
// 既読にした件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.InTx(ctx, func(tx *Tx) error {
		var unread []Record
		err := tx.tx.SelectContext(ctx, &unread,
			tx.tx.Rebind(selectColumns+" WHERE to_user = ? AND is_read = ?"), userID, false)
		if err != nil {
			return fmt.Errorf("未読通知の取得に失敗: %w", err)
		}
		for i := range unread {
			if err := s.markRead(ctx, tx, &unread[i]); err != nil {
				return err
			}
		}
		count = len(unread)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) markRead(ctx context.Context, tx *Tx, r *Record) error {
	r.Read = true
	r.UpdatedAt = s.now()

	_, err := tx.tx.ExecContext(ctx,
		tx.tx.Rebind("UPDATE crm_notifications SET is_read = ?, updated_at = ? WHERE id = ?"),
		r.Read, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗 (id=%s): %w", r.ID, err)
	}

	if s.hooks != nil {
		s.hooks.OnRecordUpdated(ctx, tx, r)
	}
	return nil
}

// DeleteReadBefore はcutoffより前に既読になった通知を削除し、削除件数を返す。
func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM crm_notifications WHERE is_read = ? AND updated_at < ?"), true, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}
