package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd はCLIのルートコマンドを作成します。サブコマンド省略時は serve と同じです。
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codedeck-auth",
		Short: "Session based authentication API",
		Long: `codedeck-auth registers users, signs them in with a server side
session and reports whether the current session is authenticated.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
		Args:         cobra.NoArgs,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}
