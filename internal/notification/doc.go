// Package notification はCRMの割り当て通知サービスの内部実装を提供する。
//
// 割り当て変更ワークフローから受け取った内容を通知として保存し、
// 保存・既読化がコミットされた後に受信者のWebSocketセッションへ
// crm_notificationイベントを配信する。自分自身への割り当てと、
// 内容が完全に一致する通知の再作成は行わない。
package notification
