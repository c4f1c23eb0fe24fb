// Package realtime はユーザー単位のリアルタイム配信を提供する。
//
// 単一インスタンスではHubがWebSocketセッションへ直接書き込む。
// 複数インスタンス構成ではRedisBrokerがRedisのPub/Subで
// イベントを中継し、各インスタンスのHubへ渡す。
package realtime
