// 通知サービスの操作用CLI。
// 割り当て通知の送信と、ユーザーの通知一覧・既読操作を行う。
//
// 使い方:
//
//	notifyctl assign -owner alice -assigned-to bob -doctype Task -docname T-1
//	notifyctl list [-unread]
//	notifyctl read <id>
//	notifyctl read-all
//
// 接続先とトークンは環境変数NOTIFY_URLとNOTIFY_TOKENで指定する。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/nao1215/crmnotify/pkg/httpclient"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatal("サブコマンドを指定してください: assign | list | read | read-all")
	}

	baseURL := os.Getenv("NOTIFY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8086"
	}
	client := httpclient.New(baseURL, os.Getenv("NOTIFY_TOKEN"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, client, os.Args[1], os.Args[2:]); err != nil {
		stop()
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func run(ctx context.Context, client *httpclient.Client, cmd string, args []string) error {
	switch cmd {
	case "assign":
		var a httpclient.Assignment
		fs := flag.NewFlagSet("assign", flag.ExitOnError)
		fs.StringVar(&a.Owner, "owner", "", "割り当て元ユーザー")
		fs.StringVar(&a.AssignedTo, "assigned-to", "", "割り当て先ユーザー")
		fs.StringVar(&a.NotificationType, "type", "Assignment", "通知の種類")
		fs.StringVar(&a.Message, "message", "", "通知の本文")
		fs.StringVar(&a.NotificationText, "text", "", "一覧表示用の通知テキスト")
		fs.StringVar(&a.ReferenceDoctype, "doctype", "", "発生元ドキュメントの種類")
		fs.StringVar(&a.ReferenceDocname, "docname", "", "発生元ドキュメントの名前")
		fs.StringVar(&a.RedirectToDoctype, "redirect-doctype", "", "遷移先ドキュメントの種類（省略時は-doctype）")
		fs.StringVar(&a.RedirectToDocname, "redirect-docname", "", "遷移先ドキュメントの名前（省略時は-docname）")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if a.RedirectToDoctype == "" {
			a.RedirectToDoctype = a.ReferenceDoctype
		}
		if a.RedirectToDocname == "" {
			a.RedirectToDocname = a.ReferenceDocname
		}
		return client.SendAssignment(ctx, a)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		unread := fs.Bool("unread", false, "未読のみ表示する")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var (
			list []httpclient.Notification
			err  error
		)
		if *unread {
			list, err = client.ListUnread(ctx)
		} else {
			list, err = client.ListNotifications(ctx)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)

	case "read":
		if len(args) != 1 {
			return errors.New("通知IDを1つ指定してください")
		}
		n, err := client.MarkAsRead(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("既読にしました: %s\n", n.ID)
		return nil

	case "read-all":
		count, err := client.MarkAllAsRead(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d件を既読にしました\n", count)
		return nil
	}
	return fmt.Errorf("不明なサブコマンド: %s", cmd)
}
