// Package main は認証APIサーバーのエントリーポイントです。
package main

import (
	"os"
)

// version はビルド時に -ldflags で上書きします。
var version = "0.1.0"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
