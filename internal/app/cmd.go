package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandSync はロスターの同期バッチを実行することを示す。
	CommandSync Command = "sync"
	// CommandReport はトラッカーの集計結果を出力することを示す。
	CommandReport Command = "report"
	// CommandMigrate はトラッカー用データベースのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandSyncを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandSync
	}

	switch args[0] {
	case "sync":
		return CommandSync
	case "report":
		return CommandReport
	case "migrate":
		return CommandMigrate
	default:
		return CommandSync
	}
}
