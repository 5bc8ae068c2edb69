package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/spotify"
)

func newRecentCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently played tracks, one row per track",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must not be negative")
			}
			client, err := cliClient(cmd.Context(), os.Stdin, os.Stdout)
			if err != nil {
				return err
			}

			recent, err := client.RecentlyPlayed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRecentTable(os.Stdout, recent)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", core.DefaultRecentlyPlayedLimit, "Number of distinct tracks to show")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List Spotify Connect devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := cliClient(cmd.Context(), os.Stdin, os.Stdout)
			if err != nil {
				return err
			}

			devices, err := client.Devices(cmd.Context())
			if err != nil {
				return err
			}
			printDevicesTable(os.Stdout, devices)
			return nil
		},
	}
}

// cliClient builds a Spotify client from the token file, asking the user to
// authorize when there is none yet.
func cliClient(ctx context.Context, in io.Reader, out io.Writer) (*spotify.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateSpotifyConfig(); err != nil {
		return nil, err
	}

	authenticator := auth.NewAuthenticator(&config.Spotify)
	path := config.Spotify.TokenPath

	token, err := spotify.LoadToken(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		token, err = authorizeInteractively(ctx, authenticator, in, out)
		if err != nil {
			return nil, err
		}
		if saveErr := spotify.SaveToken(path, token); saveErr != nil {
			logger.Warn("Failed to save token", zap.String("path", path), zap.Error(saveErr))
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	src := &tokenFileSource{
		base: authenticator.TokenSource(ctx, token),
		path: path,
		last: token.AccessToken,
	}
	return spotify.NewClient(authenticator.Client(ctx, src), &config.App,
		config.Spotify.APIBaseURL, logger.Named("spotify")), nil
}

// authorizeInteractively prints the authorize URL and exchanges the code the
// user pastes back. The full redirect URL is accepted as well.
func authorizeInteractively(ctx context.Context, a *auth.Authenticator, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	state := strings.ReplaceAll(uuid.NewString(), "-", "")[:auth.StateLength]

	fmt.Fprintf(out, "Please visit the following URL to authorize PlayDeck:\n%s\n", a.AuthURL(state))
	fmt.Fprint(out, "Paste the authorization code or the URL you were redirected to: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read authorization code: %w", err)
		}
		return nil, fmt.Errorf("no authorization code entered")
	}

	code, err := parseAuthorizationInput(scanner.Text(), state)
	if err != nil {
		return nil, err
	}

	token, err := a.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

func parseAuthorizationInput(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("no authorization code entered")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	query := u.Query()
	if reason := query.Get("error"); reason != "" {
		return "", fmt.Errorf("authorization denied: %s", reason)
	}
	if query.Get("state") != state {
		return "", auth.ErrStateMismatch
	}
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL has no code")
	}
	return code, nil
}

// tokenFileSource writes refreshed tokens back to the token file.
type tokenFileSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *tokenFileSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := spotify.SaveToken(s.path, token); err != nil {
			logger.Warn("Failed to save refreshed token", zap.String("path", s.path), zap.Error(err))
		}
	}
	return token, nil
}

func printRecentTable(w io.Writer, recent *core.RecentlyPlayed) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Fprintln(w)
	cyan.Fprintln(w, "🎧 Recently Played")
	fmt.Fprintln(w)

	if len(recent.Items) == 0 {
		color.New(color.FgYellow).Fprintln(w, "Nothing played recently.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Track", "Artists", "Album", "Played At"})

	for i, item := range recent.Items {
		t.AppendRow(table.Row{
			i + 1,
			color.New(color.Bold).Sprint(item.Track.Name),
			artistNames(item.Track.Artists),
			item.Track.Album.Name,
			color.HiBlackString(item.PlayedAt.Local().Format("2006-01-02 15:04")),
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()

	fmt.Fprintln(w)
	green.Fprintf(w, "Distinct tracks: %d\n", len(recent.Items))
}

func printDevicesTable(w io.Writer, devices []core.Device) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Fprintln(w)
	cyan.Fprintln(w, "🎵 Available Spotify Connect Devices")
	fmt.Fprintln(w)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Name", "Type", "Status", "Volume", "Device ID"})

	for i, device := range devices {
		status := "Inactive"
		if device.Active {
			status = color.GreenString("● Active")
		}

		t.AppendRow(table.Row{
			i + 1,
			color.New(color.Bold).Sprint(device.Name),
			device.Type,
			status,
			fmt.Sprintf("%d%%", device.VolumePercent),
			color.HiBlackString(device.ID),
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()

	fmt.Fprintln(w)
	green.Fprintf(w, "Total devices: %d\n", len(devices))
}

func artistNames(artists []core.Artist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}
