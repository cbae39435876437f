package app

// Command はkitchenhubのサブコマンドを表す。
type Command string

const (
	// CommandServe はWebSocketハブとHTTPサイドチャネルを起動する。引数なしの既定。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期的に削除するクリーンアップジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みのSQLマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを呼び、結果を終了コードで返す。
	// コンテナのヘルスチェックなどシェルのない環境から使う。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合や未知のコマンドの場合はCommandServeを返す。2番目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// RequiresPostgres はSTORE_DRIVER=postgresでのみ意味を持つコマンドかどうかを返す。
// インメモリストアにはセッションの期限切れもスキーマもないため、workerとmigrateは実行できない。
func (c Command) RequiresPostgres() bool {
	return c == CommandWorker || c == CommandMigrate
}
