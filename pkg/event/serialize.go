package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoRecipient はイベントの配信先ユーザーが指定されていないことを表す。
var ErrNoRecipient = errors.New("配信先ユーザーが指定されていません")

// New は新しいリアルタイムイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。nilの場合Dataは空になる。
func New(name Name, user string, data any) (*Event, error) {
	if user == "" {
		return nil, ErrNoRecipient
	}

	var raw json.RawMessage
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
		}
		raw = jsonData
	}

	return &Event{
		ID:        uuid.New().String(),
		Name:      name,
		User:      user,
		Data:      raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Marshal はイベントをワイヤ形式（JSON）に変換する。
func Marshal(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// Unmarshal はワイヤ形式（JSON）からイベントを復元する。
func Unmarshal(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	if e.User == "" {
		return nil, ErrNoRecipient
	}
	return &e, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
