// Package event はユーザーのセッションへ配信するリアルタイムイベントを定義する。
//
// イベントはJSONとしてWebSocketやRedisのPub/Subを流れる。
package event
