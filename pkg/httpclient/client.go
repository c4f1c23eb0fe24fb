package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client は通知サービスAPIのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は通知サービスのベースURL。
	baseURL string
	// token はAuthorizationヘッダーに付与するJWT。
	token string
}

// New は新しいクライアントを生成する。
// baseURLには通知サービスのベースURL（例: "http://notification:8086"）を指定する。
func New(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// StatusError はAPIが2xx以外のステータスを返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はレスポンスのerrorフィールド。取得できない場合はボディ全体。
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, message=%s", e.StatusCode, e.Message)
}

// Assignment は割り当て変更による通知の作成要求。
type Assignment struct {
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

// Notification はAPIが返す通知。
type Notification struct {
	ID                      string `json:"id"`
	FromUser                string `json:"from_user"`
	ToUser                  string `json:"to_user"`
	Type                    string `json:"type"`
	Message                 string `json:"message"`
	NotificationText        string `json:"notification_text"`
	NotificationTypeDoctype string `json:"notification_type_doctype"`
	NotificationTypeDoc     string `json:"notification_type_doc"`
	ReferenceDoctype        string `json:"reference_doctype"`
	ReferenceName           string `json:"reference_name"`
	Read                    bool   `json:"read"`
	CreatedAt               string `json:"created_at"`
}

// SendAssignment は割り当て変更の通知を作成する。systemロールのトークンが必要。
// 自己割り当てや重複で通知が作られなかった場合もエラーにはならない。
func (c *Client) SendAssignment(ctx context.Context, a Assignment) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/internal/assignments", a, nil)
}

// ListNotifications はトークンのユーザー宛ての通知を新しい順に返す。
func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	var result []Notification
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notifications", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListUnread はトークンのユーザー宛ての未読通知を返す。
func (c *Client) ListUnread(ctx context.Context) ([]Notification, error) {
	var result []Notification
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notifications/unread", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAsRead は通知を既読にする。
func (c *Client) MarkAsRead(ctx context.Context, id string) (*Notification, error) {
	var result Notification
	path := "/api/v1/notifications/" + url.PathEscape(id) + "/read"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkAllAsRead は未読通知をすべて既読にし、既読にした件数を返す。
func (c *Client) MarkAllAsRead(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/notifications/read-all", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
