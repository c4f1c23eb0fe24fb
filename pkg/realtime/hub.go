package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"slices"

	"github.com/olahol/melody"

	"github.com/nao1215/crmnotify/pkg/event"
)

// sessionKeyUser はセッションに紐づくユーザーIDを格納するキー。
const sessionKeyUser = "user"

// Hub はWebSocketセッションをユーザー単位で管理し、イベントを配信する。
// 同一ユーザーが複数のタブから接続している場合はすべてのセッションへ送る。
type Hub struct {
	// m はWebSocketセッションを管理するmelodyインスタンス。
	m *melody.Melody
}

// NewHub は新しいHubを生成する。
// WebSocketの接続はallowedOriginsに含まれるOriginからのみ受け付ける。
// "*" を含む場合はすべてのオリジンを許可し、Originヘッダーのない接続は常に許可する。
func NewHub(allowedOrigins ...string) *Hub {
	m := melody.New()
	// melodyは内部のゴルーチンが起動するまでクローズ状態として扱う
	for m.IsClosed() {
		runtime.Gosched()
	}
	m.Upgrader.CheckOrigin = checkOrigin(allowedOrigins)
	m.HandleConnect(func(s *melody.Session) {
		user, _ := s.Get(sessionKeyUser)
		log.Printf("[Realtime] セッション接続: user=%v", user)
	})
	m.HandleDisconnect(func(s *melody.Session) {
		user, _ := s.Get(sessionKeyUser)
		log.Printf("[Realtime] セッション切断: user=%v", user)
	})
	return &Hub{m: m}
}

// checkOrigin はアップグレード要求のOriginを検査する関数を返す。
func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowAll := slices.Contains(allowedOrigins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowAll || slices.Contains(allowedOrigins, origin)
	}
}

// HandleRequest はHTTPリクエストをWebSocketへアップグレードし、
// userIDのセッションとして登録する。接続が閉じるまでブロックする。
func (h *Hub) HandleRequest(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		return event.ErrNoRecipient
	}
	if err := h.m.HandleRequestWithKeys(w, r, map[string]any{sessionKeyUser: userID}); err != nil {
		return fmt.Errorf("WebSocketセッションの処理に失敗: %w", err)
	}
	return nil
}

// Publish はev.Userのセッションにのみイベントを書き込む。
// 接続中のセッションがなければ何もしない。
func (h *Hub) Publish(_ context.Context, ev *event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	err = h.m.BroadcastFilter(payload, func(s *melody.Session) bool {
		user, ok := s.Get(sessionKeyUser)
		return ok && user == ev.User
	})
	if err != nil {
		return fmt.Errorf("イベントの配信に失敗: %w", err)
	}
	return nil
}

// Len は接続中のセッション数を返す。
func (h *Hub) Len() int {
	return h.m.Len()
}

// Close はすべてのセッションを閉じる。
func (h *Hub) Close() error {
	return h.m.Close()
}
