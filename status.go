package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/api"
	"github.com/tonimelisma/lapse-go/internal/credstore"
	"github.com/tonimelisma/lapse-go/internal/ledger"
)

// Token state constants for status reporting.
const (
	tokenStateMissing   = "missing"
	tokenStateNotMinted = "not minted"
	tokenStateExpired   = "expired"
	tokenStateValid     = "valid"
	tokenStateUnknown   = "unknown"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state, device identity and upload history",
		Long: `Display whether a refresh token is saved, the state of the cached access
token, the device identifier presented to the service and a summary of the
local upload history. Makes no network requests.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn          bool       `json:"logged_in"`
	TokenState        string     `json:"token_state"`
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`
	DeviceID          string     `json:"device_id,omitempty"`
	ConfigFile        string     `json:"config_file"`
	CredentialsFile   string     `json:"credentials_file"`
	HistoryFile       string     `json:"history_file"`
	Uploads           int        `json:"uploads"`
	Orphans           int        `json:"orphans"`
	WatcherPID        int        `json:"watcher_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	store := credstore.NewFileStore(cc.Cfg.CredentialsPath(), cc.Logger)

	out, err := buildStatus(cmd.Context(), cc, store, time.Now())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), out)

	return nil
}

func buildStatus(ctx context.Context, cc *CLIContext, store credstore.Store, now time.Time) (*statusOutput, error) {
	refresh, err := store.Get(credstore.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	access, err := store.Get(credstore.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	deviceID := cc.Cfg.Device.DeviceID
	if deviceID == "" {
		if deviceID, err = store.Get(credstore.KeyDeviceID); err != nil {
			return nil, fmt.Errorf("reading device id: %w", err)
		}
	}

	out := &statusOutput{
		LoggedIn:        refresh != "",
		DeviceID:        deviceID,
		ConfigFile:      cc.Cfg.Path,
		CredentialsFile: cc.Cfg.CredentialsPath(),
		HistoryFile:     cc.Cfg.HistoryPath(),
	}

	out.TokenState, out.AccessTokenExpiry = tokenState(refresh, access, now)

	if pid, pidErr := readPIDFile(watchPIDPath(cc.Cfg)); pidErr == nil && processAlive(pid) {
		out.WatcherPID = pid
	}

	// Status never creates the history database.
	if _, statErr := os.Stat(out.HistoryFile); statErr != nil {
		return out, nil
	}

	history, err := ledger.Open(ctx, out.HistoryFile, cc.Logger)
	if err != nil {
		cc.Logger.Warn("could not open upload history", slog.String("error", err.Error()))
		return out, nil
	}
	defer history.Close()

	entries, err := history.List(ctx, 0)
	if err != nil {
		cc.Logger.Warn("could not read upload history", slog.String("error", err.Error()))
		return out, nil
	}

	for _, e := range entries {
		if e.Outcome == ledger.OutcomeSucceeded {
			out.Uploads++
		}

		if e.Orphaned() {
			out.Orphans++
		}
	}

	return out, nil
}

// tokenState classifies the saved credentials without contacting the
// service. Access tokens that are not JWTs have no readable expiry.
func tokenState(refresh, access string, now time.Time) (string, *time.Time) {
	if refresh == "" {
		return tokenStateMissing, nil
	}

	if access == "" {
		return tokenStateNotMinted, nil
	}

	expiry := api.TokenExpiry(access)
	if expiry.IsZero() {
		return tokenStateUnknown, nil
	}

	if !expiry.After(now) {
		return tokenStateExpired, &expiry
	}

	return tokenStateValid, &expiry
}

func printStatusText(w io.Writer, out *statusOutput) {
	if out.LoggedIn {
		fmt.Fprintln(w, "Logged in:   yes")
	} else {
		fmt.Fprintln(w, "Logged in:   no (run 'lapse-go login')")
	}

	token := out.TokenState
	if out.AccessTokenExpiry != nil {
		token = fmt.Sprintf("%s (expires %s)", token, formatTime(*out.AccessTokenExpiry))
	}

	fmt.Fprintf(w, "Token:       %s\n", token)

	if out.DeviceID != "" {
		fmt.Fprintf(w, "Device:      %s\n", out.DeviceID)
	}

	fmt.Fprintf(w, "Config:      %s\n", out.ConfigFile)
	fmt.Fprintf(w, "Credentials: %s\n", out.CredentialsFile)
	fmt.Fprintf(w, "History:     %s\n", out.HistoryFile)
	fmt.Fprintf(w, "Uploads:     %d\n", out.Uploads)

	if out.Orphans > 0 {
		fmt.Fprintf(w, "Orphans:     %d (transferred but never registered, see 'lapse-go history --orphans')\n", out.Orphans)
	}

	if out.WatcherPID != 0 {
		fmt.Fprintf(w, "Watcher:     running (PID %d)\n", out.WatcherPID)
	}
}
