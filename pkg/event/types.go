package event

import (
	"encoding/json"
	"time"
)

// Name はリアルタイムイベントの名前を表す。
// クライアントはこの名前で購読するイベントを振り分ける。
type Name string

const (
	// NameCRMNotification はユーザー宛ての通知が作成・更新されたことを表す。
	NameCRMNotification Name = "crm_notification"
)

// Event は特定ユーザーのセッションへ配信されるリアルタイムイベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Name はイベントの名前。
	Name Name `json:"event"`
	// User は配信先のユーザーID。
	User string `json:"user"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
	// CreatedAt はイベントが生成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationData はcrm_notificationイベントのデータ。
type NotificationData struct {
	// Name は対象となった通知のID。
	Name string `json:"name"`
	// Type は通知の種類。
	Type string `json:"type"`
	// FromUser は通知を発生させたユーザーのID。
	FromUser string `json:"from_user"`
	// Read は通知の既読状態。
	Read bool `json:"read"`
}
