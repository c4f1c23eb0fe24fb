package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/crmnotify/internal/config"
	"github.com/nao1215/crmnotify/pkg/middleware"
	"github.com/nao1215/crmnotify/pkg/realtime"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はデータベース接続。
	db *sqlx.DB
	// service は通知の作成と配信を行うサービス。
	service *Service
	// hub はこのインスタンスに接続しているWebSocketセッションの管理。
	hub *realtime.Hub
	// redis はRedisクライアント。REDIS_ADDR未設定の場合はnil。
	redis *redis.Client
	// broker はインスタンス間のイベント中継。REDIS_ADDR未設定の場合はnil。
	broker *realtime.RedisBroker
	// janitor は既読通知の定期削除ジョブ。
	janitor *Janitor
}

// NewServer は設定に従って通知サーバーを生成する。
// データベースへの接続とマイグレーションの適用を行う。
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	db, err := OpenDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var (
		client *redis.Client
		broker *realtime.RedisBroker
	)
	if cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = db.Close()
			return nil, fmt.Errorf("Redisへの接続に失敗 (addr=%s): %w", cfg.RedisAddr, err)
		}
		broker = realtime.NewRedisBroker(client, cfg.RealtimeChannel)
	}

	s, err := newServer(cfg, db, realtime.NewHub(cfg.AllowedOrigins...), broker)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		_ = db.Close()
		return nil, err
	}
	s.redis = client
	return s, nil
}

// newServer は接続済みのリソースからサーバーを組み立てる。
// brokerがnilの場合、イベントはこのインスタンスのhubへ直接配信される。
func newServer(cfg config.Config, db *sqlx.DB, hub *realtime.Hub, broker *realtime.RedisBroker) (*Server, error) {
	var publisher realtime.Publisher = hub
	if broker != nil {
		publisher = broker
	}
	service := NewService(db, publisher)

	janitor, err := NewJanitor(service.Store(), cfg.CleanupSchedule, cfg.ReadRetention)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		port:    cfg.Port,
		db:      db,
		service: service,
		hub:     hub,
		broker:  broker,
		janitor: janitor,
	}
	s.setupRoutes(cfg.JWTSecret)

	return s, nil
}

// Run はHTTPサーバーと定期ジョブを起動し、ctxがキャンセルされるまでブロックする。
// キャンセル後はリクエストの完了を待ってから各リソースを解放する。
func (s *Server) Run(ctx context.Context) error {
	if err := s.startRelay(ctx); err != nil {
		s.closeResources()
		return err
	}
	s.janitor.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("通知サービスを停止します")
	case err := <-errCh:
		runErr = fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTPサーバーの停止に失敗: %v", err)
	}

	s.janitor.Stop()
	s.closeResources()

	return runErr
}

// startRelay はRedisの購読を確立してからインスタンス間の中継を開始する。
// 購読の確認前にリッスンを始めると、その間に発行されたイベントを取りこぼす。
func (s *Server) startRelay(ctx context.Context) error {
	if s.broker == nil {
		return nil
	}
	sub, err := s.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := sub.Forward(ctx, s.hub); err != nil {
			log.Printf("[Realtime] Redis購読が停止しました: %v", err)
		}
	}()
	return nil
}

// closeResources はセッション・Redis・データベースを閉じる。
func (s *Server) closeResources() {
	if err := s.hub.Close(); err != nil {
		log.Printf("[Realtime] セッションのクローズに失敗: %v", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("Redisクライアントのクローズに失敗: %v", err)
		}
	}
	if err := s.db.Close(); err != nil {
		log.Printf("データベースのクローズに失敗: %v", err)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})

	// リアルタイム通知の受信用WebSocket
	s.router.GET("/ws", middleware.JWTAuth(jwtSecret), s.handleWebSocket())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 割り当て変更の通知（内部API - 割り当てワークフローから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleSystem))
		{
			internal.POST("/assignments", s.handleAssignment())
		}
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
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
	// Read は通知の既読状態。
	Read bool `json:"read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はレコードをJSONレスポンスに変換する。
func toNotificationResponse(r Record) notificationResponse {
	return notificationResponse{
		ID:                      r.ID,
		FromUser:                r.FromUser,
		ToUser:                  r.ToUser,
		Type:                    r.Type,
		Message:                 r.Message,
		NotificationText:        r.NotificationText,
		NotificationTypeDoctype: r.NotificationTypeDoctype,
		NotificationTypeDoc:     r.NotificationTypeDoc,
		ReferenceDoctype:        r.ReferenceDoctype,
		ReferenceName:           r.ReferenceName,
		Read:                    r.Read,
		CreatedAt:               r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toNotificationResponses はレコードのスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(records []Record) []notificationResponse {
	responses := make([]notificationResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, toNotificationResponse(r))
	}
	return responses
}

// handleWebSocket は認証済みユーザーのWebSocketセッションを開始するハンドラ。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.hub.HandleRequest(c.Writer, c.Request, userID); err != nil {
			log.Printf("[Realtime] WebSocketエラー (user=%s): %v", userID, err)
		}
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		records, err := s.service.Store().ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(records))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		records, err := s.service.Store().ListUnreadByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			log.Printf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(records))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		r, err := s.service.Store().MarkAsRead(c.Request.Context(), notificationID, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		case errors.Is(err, ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponse(*r))
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.service.Store().MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "count": count})
	}
}

// handleAssignment は割り当て変更から通知を作成するハンドラ。
// 自己割り当てや重複で通知が作られなかった場合も202を返す。
func (s *Server) handleAssignment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var args AssignmentArgs
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.service.CreateFromAssignment(c.Request.Context(), args); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("割り当て通知作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"message": "通知を受け付けました"})
	}
}
