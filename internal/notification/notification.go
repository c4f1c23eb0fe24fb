package notification

import (
	"errors"
	"time"
)

var (
	// ErrNotFound は通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他ユーザーの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// Record は1件の通知。
// 作成後に内容が書き換わることはなく、既読状態のみが更新される。
type Record struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id"`
	// FromUser は通知を発生させたユーザー。
	FromUser string `db:"from_user"`
	// ToUser は通知先のユーザー。空の場合はリアルタイム配信しない。
	ToUser string `db:"to_user"`
	// Type は通知の種類。
	Type string `db:"type"`
	// Message は通知の本文。
	Message string `db:"message"`
	// NotificationText は一覧表示用の通知テキスト。
	NotificationText string `db:"notification_text"`
	// NotificationTypeDoctype は通知の発生元ドキュメントの種類。
	NotificationTypeDoctype string `db:"notification_type_doctype"`
	// NotificationTypeDoc は通知の発生元ドキュメントの名前。
	NotificationTypeDoc string `db:"notification_type_doc"`
	// ReferenceDoctype は遷移先ドキュメントの種類。
	ReferenceDoctype string `db:"reference_doctype"`
	// ReferenceName は遷移先ドキュメントの名前。
	ReferenceName string `db:"reference_name"`
	// Read は既読状態。
	Read bool `db:"is_read"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at"`
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time `db:"updated_at"`
}

// AssignmentArgs は割り当て変更ワークフローから渡される通知の作成要求。
// OwnerとAssignedTo以外はそのまま通知へ転記される。
// 空文字列も有効な値として比較に使われる。
type AssignmentArgs struct {
	Owner             string `json:"owner"`
	AssignedTo        string `json:"assigned_to"`
	NotificationType  string `json:"notification_type"`
	Message           string `json:"message"`
	NotificationText  string `json:"notification_text"`
	ReferenceDoctype  string `json:"reference_doctype"`
	ReferenceDocname  string `json:"reference_docname"`
	RedirectToDoctype string `json:"redirect_to_doctype"`
	RedirectToDocname string `json:"redirect_to_docname"`
}

// IsSelfAssignment は自分自身への割り当てかどうかを返す。
func (a AssignmentArgs) IsSelfAssignment() bool {
	return a.Owner == a.AssignedTo
}

// Record は割り当て変更の内容を通知レコードに変換する。
// ID・既読状態・日時は保存時に設定される。
func (a AssignmentArgs) Record() *Record {
	return &Record{
		FromUser:                a.Owner,
		ToUser:                  a.AssignedTo,
		Type:                    a.NotificationType,
		Message:                 a.Message,
		NotificationText:        a.NotificationText,
		NotificationTypeDoctype: a.ReferenceDoctype,
		NotificationTypeDoc:     a.ReferenceDocname,
		ReferenceDoctype:        a.RedirectToDoctype,
		ReferenceName:           a.RedirectToDocname,
	}
}
