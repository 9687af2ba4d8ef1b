package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/api"
	"github.com/tonimelisma/lapse-go/internal/config"
	"github.com/tonimelisma/lapse-go/internal/credstore"
)

// envRefreshToken supplies the refresh token to login non-interactively.
const envRefreshToken = "LAPSE_GO_REFRESH_TOKEN"

// errNoRefreshToken is returned when login receives an empty token.
var errNoRefreshToken = errors.New("no refresh token provided")

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save a refresh token and verify it",
		Long: `Save a Lapse refresh token and verify it by minting an access token.

The token is read from $` + envRefreshToken + ` when set, otherwise from stdin.
A token the service rejects is not kept. On first login a default config file
is created.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		Long:  "Remove the saved refresh and access tokens. The device identifier is kept.",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Mint a new access token from the saved refresh token",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	token, err := readRefreshToken(cmd.InOrStdin(), os.Stderr)
	if err != nil {
		return err
	}

	s, err := newSession(cc)
	if err != nil {
		return err
	}

	cc.Logger.Info("login started",
		slog.String("credentials", s.store.Path()),
		slog.String("device_id", s.deviceID),
	)

	if err := s.store.Set(credstore.KeyRefreshToken, token); err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}

	// A stale access token from an earlier login must not outlive the new one.
	if err := s.store.Set(credstore.KeyAccessToken, ""); err != nil {
		return fmt.Errorf("clearing cached access token: %w", err)
	}

	tok, err := s.refresher.Refresh(ctx)
	if err != nil {
		if clearErr := s.store.Clear(); clearErr != nil {
			cc.Logger.Warn("could not discard rejected refresh token", slog.String("error", clearErr.Error()))
		}

		return fmt.Errorf("login failed, the refresh token was not accepted: %w", err)
	}

	created, err := config.CreateDefault(cc.Cfg.Path, cc.Logger)
	if err != nil {
		cc.Logger.Warn("could not create default config file", slog.String("error", err.Error()))
	} else if created {
		cc.Statusf("Created config file %s\n", cc.Cfg.Path)
	}

	cc.Logger.Info("login successful")
	cc.Statusf("Login successful.\n")

	if !tok.Expiry.IsZero() {
		cc.Statusf("Access token valid until %s.\n", tok.Expiry.Local().Format(time.RFC1123))
	}

	return nil
}

// readRefreshToken takes the token from the environment, falling back to a
// single line from in. The prompt goes to prompt even in quiet mode because
// the user has to answer it.
func readRefreshToken(in io.Reader, prompt io.Writer) (string, error) {
	if token := strings.TrimSpace(os.Getenv(envRefreshToken)); token != "" {
		return token, nil
	}

	fmt.Fprint(prompt, "Paste your refresh token: ")

	scanner := bufio.NewScanner(in)
	// Allow tokens longer than the default 64 KiB line limit.
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading refresh token: %w", err)
		}

		return "", errNoRefreshToken
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", errNoRefreshToken
	}

	return token, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	store := credstore.NewFileStore(cc.Cfg.CredentialsPath(), cc.Logger)

	cc.Logger.Info("logout started", slog.String("credentials", store.Path()))

	if err := store.Clear(); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// refreshOutput is the JSON schema for `refresh --json`.
type refreshOutput struct {
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := newSession(cc)
	if err != nil {
		return err
	}

	tok, err := s.refresher.Refresh(cmd.Context())
	if err != nil {
		if errors.Is(err, api.ErrNotLoggedIn) {
			return fmt.Errorf("not logged in, run 'lapse-go login' first")
		}

		return err
	}

	if cc.Flags.JSON {
		out := refreshOutput{}
		if !tok.Expiry.IsZero() {
			out.AccessTokenExpiry = &tok.Expiry
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if tok.Expiry.IsZero() {
		cc.Statusf("Access token refreshed.\n")
		return nil
	}

	cc.Statusf("Access token refreshed, valid until %s.\n", tok.Expiry.Local().Format(time.RFC1123))

	return nil
}
