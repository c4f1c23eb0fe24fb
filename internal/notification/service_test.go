package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/crmnotify/pkg/event"
)

// recordingPublisher は配信されたイベントを記録するPublisher実装。
// 配信時点で通知がDBから参照できたかも記録する。
type recordingPublisher struct {
	mu      sync.Mutex
	store   *Store
	events  []*event.Event
	visible []bool
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev *event.Event) error {
	visible := false
	if data, err := event.DecodeData[event.NotificationData](ev); err == nil && p.store != nil {
		_, getErr := p.store.Get(ctx, data.Name)
		visible = getErr == nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.visible = append(p.visible, visible)
	return p.err
}

func (p *recordingPublisher) recorded() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Event(nil), p.events...)
}

// setupTestService はインメモリSQLiteと記録用Publisherでサービスを構築する。
func setupTestService(t *testing.T) (*Service, *recordingPublisher, *sqlx.DB) {
	t.Helper()

	db := openTestDB(t)
	pub := &recordingPublisher{}
	svc := NewService(db, pub)
	pub.store = svc.Store()
	return svc, pub, db
}

// countRecords は保存されている通知の件数を返す。
func countRecords(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	if err := db.GetContext(t.Context(), &n, "SELECT COUNT(*) FROM crm_notifications"); err != nil {
		t.Fatalf("件数の取得に失敗: %v", err)
	}
	return n
}

// assignmentArgs はテスト用の割り当て変更の内容を返す。
func assignmentArgs() AssignmentArgs {
	return AssignmentArgs{
		Owner:             "alice",
		AssignedTo:        "bob",
		NotificationType:  "Assignment",
		Message:           "m",
		NotificationText:  "t",
		ReferenceDoctype:  "Task",
		ReferenceDocname:  "T-1",
		RedirectToDoctype: "Task",
		RedirectToDocname: "T-1",
	}
}

// TestServiceHooks は挿入・更新時のリアルタイム配信を検証する。
func TestServiceHooks(t *testing.T) {
	t.Parallel()

	t.Run("挿入時に受信者宛てのイベントが1件配信されること", func(t *testing.T) {
		t.Parallel()

		svc, pub, _ := setupTestService(t)
		r := insertTestRecord(t, svc.Store(), sampleRecord("bob", "T-1"))

		events := pub.recorded()
		if len(events) != 1 {
			t.Fatalf("配信数 = %d, want 1", len(events))
		}
		if events[0].Name != event.NameCRMNotification {
			t.Errorf("イベント名 = %q, want %q", events[0].Name, event.NameCRMNotification)
		}
		if events[0].User != "bob" {
			t.Errorf("配信先 = %q, want %q", events[0].User, "bob")
		}
		data, err := event.DecodeData[event.NotificationData](events[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if data.Name != r.ID || data.FromUser != "alice" || data.Read {
			t.Errorf("イベントデータ = %+v", data)
		}
		if !pub.visible[0] {
			t.Error("配信時点で通知がコミットされていない")
		}
	})

	t.Run("更新時に受信者宛てのイベントが1件配信されること", func(t *testing.T) {
		t.Parallel()

		svc, pub, _ := setupTestService(t)
		r := insertTestRecord(t, svc.Store(), sampleRecord("bob", "T-1"))

		if _, err := svc.Store().MarkAsRead(t.Context(), r.ID, "bob"); err != nil {
			t.Fatalf("MarkAsRead()でエラーが発生: %v", err)
		}

		events := pub.recorded()
		if len(events) != 2 {
			t.Fatalf("配信数 = %d, want 2", len(events))
		}
		data, err := event.DecodeData[event.NotificationData](events[1])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		if events[1].User != "bob" || !data.Read {
			t.Errorf("更新イベント = user:%q data:%+v", events[1].User, data)
		}
	})

	t.Run("受信者が空の場合は配信しないこと", func(t *testing.T) {
		t.Parallel()

		svc, pub, db := setupTestService(t)
		r := insertTestRecord(t, svc.Store(), sampleRecord("", "T-1"))

		if _, err := svc.Store().MarkAsRead(t.Context(), r.ID, ""); err != nil {
			t.Fatalf("MarkAsRead()でエラーが発生: %v", err)
		}
		if got := len(pub.recorded()); got != 0 {
			t.Errorf("配信数 = %d, want 0", got)
		}
		if got := countRecords(t, db); got != 1 {
			t.Errorf("レコード数 = %d, want 1", got)
		}
	})

	t.Run("ロールバックされた場合は配信しないこと", func(t *testing.T) {
		t.Parallel()

		svc, pub, db := setupTestService(t)
		errBoom := errors.New("boom")
		err := svc.Store().InTx(t.Context(), func(tx *Tx) error {
			if err := svc.Store().Insert(t.Context(), tx, sampleRecord("bob", "T-1")); err != nil {
				return err
			}
			return errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Fatalf("InTx()のエラー = %v, want %v", err, errBoom)
		}
		if got := len(pub.recorded()); got != 0 {
			t.Errorf("配信数 = %d, want 0", got)
		}
		if got := countRecords(t, db); got != 0 {
			t.Errorf("レコード数 = %d, want 0", got)
		}
	})
}

// TestServiceCreateFromAssignment は割り当て変更からの通知作成を検証する。
func TestServiceCreateFromAssignment(t *testing.T) {
	t.Parallel()

	t.Run("割り当て内容が通知に転記され受信者へ配信されること", func(t *testing.T) {
		t.Parallel()

		svc, pub, _ := setupTestService(t)
		if err := svc.CreateFromAssignment(t.Context(), assignmentArgs()); err != nil {
			t.Fatalf("CreateFromAssignment()でエラーが発生: %v", err)
		}

		records, err := svc.Store().ListByUser(t.Context(), "bob")
		if err != nil {
			t.Fatalf("ListByUser()でエラーが発生: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("レコード数 = %d, want 1", len(records))
		}
		got := records[0]
		want := Record{
			ID:                      got.ID,
			FromUser:                "alice",
			ToUser:                  "bob",
			Type:                    "Assignment",
			Message:                 "m",
			NotificationText:        "t",
			NotificationTypeDoctype: "Task",
			NotificationTypeDoc:     "T-1",
			ReferenceDoctype:        "Task",
			ReferenceName:           "T-1",
			CreatedAt:               got.CreatedAt,
			UpdatedAt:               got.UpdatedAt,
		}
		if got != want {
			t.Errorf("レコード = %+v, want %+v", got, want)
		}

		events := pub.recorded()
		if len(events) != 1 || events[0].User != "bob" {
			t.Fatalf("配信 = %+v, want bob宛て1件", events)
		}
		if !pub.visible[0] {
			t.Error("配信時点で通知がコミットされていない")
		}
	})

	t.Run("自分自身への割り当ては保存も配信もしないこと", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			args AssignmentArgs
		}{
			{name: "通常の自己割り当て", args: AssignmentArgs{Owner: "alice", AssignedTo: "alice", Message: "m"}},
			{name: "その他の項目が空の場合", args: AssignmentArgs{Owner: "bob", AssignedTo: "bob"}},
			{name: "ownerとassigned_toがどちらも空の場合", args: AssignmentArgs{Message: "m"}},
		}

		svc, pub, db := setupTestService(t)
		for _, tt := range tests {
			if err := svc.CreateFromAssignment(t.Context(), tt.args); err != nil {
				t.Fatalf("%s: CreateFromAssignment()でエラーが発生: %v", tt.name, err)
			}
		}
		if got := countRecords(t, db); got != 0 {
			t.Errorf("レコード数 = %d, want 0", got)
		}
		if got := len(pub.recorded()); got != 0 {
			t.Errorf("配信数 = %d, want 0", got)
		}
	})

	t.Run("同じ内容で2回呼んでも1件のみ保存されること", func(t *testing.T) {
		t.Parallel()

		svc, pub, db := setupTestService(t)
		for range 2 {
			if err := svc.CreateFromAssignment(t.Context(), assignmentArgs()); err != nil {
				t.Fatalf("CreateFromAssignment()でエラーが発生: %v", err)
			}
		}
		if got := countRecords(t, db); got != 1 {
			t.Errorf("レコード数 = %d, want 1", got)
		}
		if got := len(pub.recorded()); got != 1 {
			t.Errorf("配信数 = %d, want 1", got)
		}
	})

	t.Run("いずれかの項目が異なれば新しく保存されること", func(t *testing.T) {
		t.Parallel()

		variants := []func(a *AssignmentArgs){
			func(a *AssignmentArgs) { a.NotificationType = "Mention" },
			func(a *AssignmentArgs) { a.Message = "m2" },
			func(a *AssignmentArgs) { a.NotificationText = "t2" },
			func(a *AssignmentArgs) { a.ReferenceDoctype = "Lead" },
			func(a *AssignmentArgs) { a.ReferenceDocname = "T-2" },
			func(a *AssignmentArgs) { a.RedirectToDoctype = "Deal" },
			func(a *AssignmentArgs) { a.RedirectToDocname = "D-1" },
			func(a *AssignmentArgs) { a.Owner = "carol" },
			func(a *AssignmentArgs) { a.AssignedTo = "dave" },
		}

		svc, _, db := setupTestService(t)
		if err := svc.CreateFromAssignment(t.Context(), assignmentArgs()); err != nil {
			t.Fatalf("CreateFromAssignment()でエラーが発生: %v", err)
		}
		for _, mutate := range variants {
			args := assignmentArgs()
			mutate(&args)
			if err := svc.CreateFromAssignment(t.Context(), args); err != nil {
				t.Fatalf("CreateFromAssignment(%+v)でエラーが発生: %v", args, err)
			}
		}
		if got, want := countRecords(t, db), len(variants)+1; got != want {
			t.Errorf("レコード数 = %d, want %d", got, want)
		}
	})

	t.Run("配信に失敗しても通知は保存されること", func(t *testing.T) {
		t.Parallel()

		svc, pub, db := setupTestService(t)
		pub.err = errors.New("transport down")

		if err := svc.CreateFromAssignment(t.Context(), assignmentArgs()); err != nil {
			t.Fatalf("CreateFromAssignment()でエラーが発生: %v", err)
		}
		if got := countRecords(t, db); got != 1 {
			t.Errorf("レコード数 = %d, want 1", got)
		}
	})

	t.Run("データベースのエラーは呼び出し元へ返ること", func(t *testing.T) {
		t.Parallel()

		svc, pub, db := setupTestService(t)
		if err := db.Close(); err != nil {
			t.Fatalf("DBのクローズに失敗: %v", err)
		}

		if err := svc.CreateFromAssignment(t.Context(), assignmentArgs()); err == nil {
			t.Error("エラーが返らない")
		}
		if got := len(pub.recorded()); got != 0 {
			t.Errorf("配信数 = %d, want 0", got)
		}
	})

	t.Run("キャンセル済みのコンテキストでは保存しないこと", func(t *testing.T) {
		t.Parallel()

		svc, _, db := setupTestService(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		if err := svc.CreateFromAssignment(ctx, assignmentArgs()); !errors.Is(err, context.Canceled) {
			t.Errorf("エラー = %v, want %v", err, context.Canceled)
		}
		if got := countRecords(t, db); got != 0 {
			t.Errorf("レコード数 = %d, want 0", got)
		}
	})
}
