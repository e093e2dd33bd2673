package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/config"
	"github.com/yourusername/codedeck-auth/internal/logging"
	"github.com/yourusername/codedeck-auth/internal/server"
)

// readPassword と isTerminal は端末操作を差し替えるためのテスト用シームです。
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// NewUserCmd は user サブコマンドを作成します。
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <username>",
		Short: "Register a user account",
		Long: `Register a user account in the credential store. The password is read
from the terminal without echo, or from the first line of stdin when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: runUserAdd,
	}
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.CredentialStore != config.StorePostgres {
		return oops.Code("CONFIG_INVALID").Errorf("user add requires CREDENTIAL_STORE=%s", config.StorePostgres)
	}

	password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), int(os.Stdin.Fd()))
	if err != nil {
		return err
	}

	logger := logging.Setup(server.ServiceName, version, cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	ctx := cmd.Context()
	users, closeUsers, _, err := openUserRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	service := account.NewService(users, account.NewBcryptHasher(cfg.BcryptCost))
	user, err := service.Register(ctx, args[0], password)
	switch {
	case errors.Is(err, account.ErrDuplicateAccount):
		return oops.Code("DUPLICATE_ACCOUNT").Errorf("username %q is already taken", args[0])
	case errors.Is(err, account.ErrInvalidInput):
		return oops.Code("INVALID_INPUT").Errorf("username and password are required")
	case err != nil:
		return err
	}

	cmd.Printf("User %s registered (id %s)\n", user.Username, user.ID)
	return nil
}

// promptPassword はパスワードを読み取ります。fd が端末でなければ in の1行目を使います。
func promptPassword(in io.Reader, out io.Writer, fd int) (string, error) {
	if !isTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	if _, err := fmt.Fprint(out, "Password: "); err != nil {
		return "", err
	}
	first, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}

	if _, err := fmt.Fprint(out, "Confirm password: "); err != nil {
		return "", err
	}
	second, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}

	if string(first) != string(second) {
		return "", oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
	}
	return string(first), nil
}
