// Package httpclient は通知サービスのHTTP APIを呼び出すクライアントを提供する。
//
// 割り当てワークフローからの通知作成（systemロール）と、
// ユーザーによる通知一覧の取得・既読操作の両方に使用する。
package httpclient
