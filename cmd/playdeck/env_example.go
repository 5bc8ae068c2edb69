package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# PlayDeck Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: PLAYDECK_<SECTION>_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	generateSpotifySection(&content, cmd)
	generateServerSection(&content, cmd)
	generateSessionSection(&content, cmd)
	generateAppSection(&content, cmd)
	generateLoggingSection(&content, cmd)
	generateQuickSetupGuide(&content)

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

// writeSection writes a section header and one line per flag with its default.
func writeSection(content *strings.Builder, cmd *cobra.Command, title string, flags []string, notes map[string]string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# CLI: --%s\n", strings.Join(flags, ", --"))

	for _, flag := range flags {
		def := getDefaultValueString(cmd, flag)
		value := def
		if example, ok := notes[flag]; ok && example != "" {
			value = example
		}
		usage := ""
		if f := cmd.PersistentFlags().Lookup(flag); f != nil {
			usage = f.Usage
		}
		fmt.Fprintf(content, "%s=%s    # %s (default: %q)\n", flagToEnvVar(flag), value, usage, def)
	}
	content.WriteString("\n")
}

func generateSpotifySection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# SPOTIFY CONFIGURATION - Required\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("# Get these from https://developer.spotify.com/dashboard\n\n")

	writeSection(content, cmd, "Spotify App",
		[]string{"spotify-client-id", "spotify-client-secret", "spotify-redirect-url", "spotify-token-path"},
		map[string]string{
			"spotify-client-id":     "your_spotify_client_id",
			"spotify-client-secret": "your_spotify_client_secret",
			"spotify-redirect-url":  "http://127.0.0.1:8080/api/auth/callback",
		})
}

func generateServerSection(content *strings.Builder, cmd *cobra.Command) {
	writeSection(content, cmd, "HTTP Server Configuration",
		[]string{"server-host", "server-port", "server-read-timeout", "server-write-timeout", "server-login-redirect"},
		map[string]string{"server-host": "127.0.0.1"})
}

func generateSessionSection(content *strings.Builder, cmd *cobra.Command) {
	writeSection(content, cmd, "Session Storage (memory, sqlite or redis)",
		[]string{
			"session-backend", "session-ttl", "session-cookie-name", "session-cookie-secure",
			"session-capacity", "session-sqlite-path", "session-redis-addr", "session-redis-db",
			"session-cleanup-schedule",
		}, nil)
}

func generateAppSection(content *strings.Builder, cmd *cobra.Command) {
	writeSection(content, cmd, "Library and Search",
		[]string{
			"language", "recently-played-limit", "history-fetch-size", "liked-tracks-limit",
			"top-tracks-limit", "search-limit", "min-search-length",
		}, nil)
	writeSection(content, cmd, "Player",
		[]string{"device-name", "transfer-delay", "poll-interval"}, nil)
	writeSection(content, cmd, "Rate Limiting",
		[]string{"requests-per-minute"}, nil)
}

func generateLoggingSection(content *strings.Builder, cmd *cobra.Command) {
	writeSection(content, cmd, "Logging Configuration",
		[]string{"log-level", "log-format"}, nil)
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# 1. SPOTIFY SETUP (Required):\n")
	content.WriteString("#    - Go to https://developer.spotify.com/dashboard\n")
	content.WriteString("#    - Create new app with name \"PlayDeck\"\n")
	content.WriteString("#    - Add redirect URI: http://127.0.0.1:8080/api/auth/callback\n")
	content.WriteString("#    - Copy Client ID and Secret to config above\n")
	content.WriteString("#    - Playback control needs a Spotify Premium account\n")
	content.WriteString("\n")
	content.WriteString("# 2. SESSIONS:\n")
	content.WriteString("#    - memory keeps logins until restart\n")
	content.WriteString("#    - sqlite keeps them in PLAYDECK_SESSION_SQLITE_PATH\n")
	content.WriteString("#    - redis shares them between instances\n")
	content.WriteString("\n")
	content.WriteString("# 3. TEST CONFIGURATION:\n")
	content.WriteString("#    go run ./cmd/playdeck --help                    # See all CLI options\n")
	content.WriteString("#    go run ./cmd/playdeck --log-level=debug         # Run with debug logging\n")
	content.WriteString("#    go run ./cmd/playdeck recent --limit 5          # Recently played in the terminal\n")
	content.WriteString("\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("# TROUBLESHOOTING\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# Issue: \"Login redirects back with #error=state_mismatch\"\n")
	content.WriteString("# - Open the app on the same host as PLAYDECK_SPOTIFY_REDIRECT_URL (127.0.0.1 vs localhost)\n")
	content.WriteString("# - Finish the login within 10 minutes\n")
	content.WriteString("\n")
	content.WriteString("# Issue: \"No active player device\"\n")
	content.WriteString("# - Open Spotify on any device so it shows up in Spotify Connect\n")
	content.WriteString("# - Set PLAYDECK_DEVICE_NAME to prefer a specific device\n")
}
