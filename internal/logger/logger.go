// Package logger は認証サービス共通のログ出力設定を提供する。
//
// 全ログはJSON Lines形式で書き出し、収集基盤側でのパースを前提とする。
// セッション操作のログは user_id 属性を、HTTPアクセスログは request_id
// 属性を併記する契約になっている。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup はこのサービス標準のJSON構造化ロガーを生成して返す。
// レベルはInfo固定で、遷移破棄などのDebugログは本番では出力されない。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はSetupで生成したロガーをslogのグローバルロガーとして設定する。
// 起動時に1回だけ呼び、以降の各パッケージのslog呼び出しは全てこの設定で出力される。
// nilが渡された場合はos.Stdoutへ出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}
