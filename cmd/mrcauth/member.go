// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/auth/memory"
	"github.com/mrcsystems/mrcauth/internal/auth/postgres"
	"github.com/mrcsystems/mrcauth/internal/config"
	"github.com/mrcsystems/mrcauth/internal/revocation"
)

// NewMemberCmd creates the member administration commands.
func NewMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Administer member accounts",
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	cmd.PersistentFlags().String("storage", config.StoragePostgres, "account storage (postgres or memory)")

	cmd.AddCommand(newMemberAddCmd())
	cmd.AddCommand(newMemberListCmd())
	cmd.AddCommand(newMemberActiveCmd("activate", "Allow an account to sign in", true))
	cmd.AddCommand(newMemberActiveCmd("deactivate", "Stop an account from signing in", false))
	return cmd
}

func newMemberAddCmd() *cobra.Command {
	var (
		member        auth.NewMember
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a member account",
		Long: `Create a member account. The password is prompted for on a terminal,
or read from the first line of standard input with --password-stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			member.Password = password

			return withMemberService(cmd, func(ctx context.Context, svc *auth.Service) error {
				account, err := svc.CreateMember(ctx, member)
				if err != nil {
					return err //nolint:wrapcheck // auth errors are already user-facing
				}
				cmd.Printf("Created member %s (%s)\n", account.Username, account.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&member.Username, "username", "", "username (required)")
	cmd.Flags().StringVar(&member.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&member.FullName, "full-name", "", "full name (required)")
	cmd.Flags().StringVar(&member.Phone, "phone", "", "phone number")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	for _, name := range []string{"username", "email", "full-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newMemberActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USERNAME|EMAIL",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemberService(cmd, func(ctx context.Context, svc *auth.Service) error {
				account, err := svc.SetActive(ctx, args[0], active)
				if err != nil {
					return err //nolint:wrapcheck // auth errors are already user-facing
				}
				state := "inactive"
				if account.Active {
					state = "active"
				}
				cmd.Printf("Member %s is now %s\n", account.Username, state)
				return nil
			})
		},
	}
}

func newMemberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List member accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMemberService(cmd, func(ctx context.Context, svc *auth.Service) error {
				members, err := svc.ListMembers(ctx)
				if err != nil {
					return err //nolint:wrapcheck // auth errors are already user-facing
				}
				cmd.Print(formatMemberTable(members, time.Now()))
				return nil
			})
		},
	}
}

// formatMemberTable renders members one per line with their sign-in state.
func formatMemberTable(members []*auth.Account, now time.Time) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "USERNAME\tEMAIL\tSTATE\tLAST LOGIN")
	for _, m := range members {
		state := "active"
		switch {
		case !m.Active:
			state = "inactive"
		case m.Lockout().IsLocked(now):
			state = "locked"
		}
		lastLogin := "never"
		if m.LastLoginAt != nil {
			lastLogin = m.LastLoginAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Username, m.Email, state, lastLogin)
	}
	_ = w.Flush()
	return buf.String()
}

// readPassword reads the new password from stdin or an interactive prompt.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", oops.Code("PASSWORD_REQUIRED").Errorf("no password on standard input")
		}
		return password, nil
	}

	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("stdin is not a terminal; use --password-stdin")
	}
	cmd.Print("Password: ")
	first, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	cmd.Print("Confirm password: ")
	second, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	if string(first) != string(second) {
		return "", oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
	}
	return string(first), nil
}

// withMemberService runs fn against a Service backed by the configured
// account store. The service never issues tokens here, so its signing key
// is random.
func withMemberService(cmd *cobra.Command, fn func(ctx context.Context, svc *auth.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.Default()

	var (
		accounts auth.AccountRepository
		resets   auth.ResetRepository
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory account storage; changes are discarded on exit")
		accounts = memory.NewAccountRepository()
		resets = memory.NewResetRepository()
	default:
		if cfg.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable or database.url is required")
		}
		pool, err := connectDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		accounts = postgres.NewAccountRepository(pool)
		resets = postgres.NewResetRepository(pool)
	}

	secret := make([]byte, auth.MinTokenSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return oops.Code("TOKEN_SECRET_FAILED").Wrap(err)
	}
	tokenCfg := cfg.TokenConfig()
	tokenCfg.Secret = secret

	hasher, err := auth.NewArgon2idHasher(cfg.HasherParams())
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	policy, err := cfg.LockoutPolicy()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	lockout, err := auth.NewLockoutTracker(accounts, policy, nil)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	tokens, err := auth.NewTokenIssuer(tokenCfg, revocation.NewMemoryDenylist(nil), nil)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	resetStore, err := auth.NewResetTokenStore(resets, cfg.Reset.TTL, nil)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts: accounts,
		Hasher:   hasher,
		Lockout:  lockout,
		Tokens:   tokens,
		Resets:   resetStore,
		Logger:   logger,
	})
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	return fn(ctx, svc)
}
