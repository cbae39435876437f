// Command kitchenhub はキッチン状態をリアルタイムに同期するサーバー。
//
// サブコマンド:
//
//	serve        APIサーバーとWebSocketハブを起動する（デフォルト）
//	worker       期限切れセッションのクリーンアップを実行する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  起動中のサーバーの/healthを確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/kitchenhub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kitchenhub: %v\n", err)
		os.Exit(1)
	}
}
