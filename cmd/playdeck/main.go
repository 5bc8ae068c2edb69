// Package main provides the PlayDeck CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/flood"
	httpserver "playdeck/internal/http"
	"playdeck/internal/i18n"
	"playdeck/internal/player"
	"playdeck/internal/store"
)

const envPrefix = "PLAYDECK"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "playdeck",
	Short: "PlayDeck - your Spotify listening, one deck",
	Long: `PlayDeck is a backend for a browser Spotify player. It signs listeners in with
Spotify, serves their recently played (one entry per track), liked and top tracks,
and drives playback on a Spotify Connect device over a live event stream.`,
	RunE: runPlayDeck,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")

	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "OAuth redirect URL (default derived from server host and port)")
	flags.String("spotify-token-path", "./spotify_token.json", "Token file used by the recent and devices commands")

	flags.String("server-host", core.DefaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Duration("server-read-timeout", core.DefaultConfig().Server.ReadTimeout, "HTTP read timeout")
	flags.Duration("server-write-timeout", core.DefaultConfig().Server.WriteTimeout, "HTTP write timeout")
	flags.String("server-login-redirect", core.DefaultConfig().Server.LoginRedirect, "Path the browser lands on after login")

	flags.String("session-backend", core.SessionBackendMemory, "Session store (memory, sqlite, redis)")
	flags.Duration("session-ttl", core.DefaultSessionTTL, "How long a login stays valid")
	flags.String("session-cookie-name", core.DefaultSessionCookie, "Session cookie name")
	flags.Bool("session-cookie-secure", false, "Only send the session cookie over HTTPS")
	flags.Int("session-capacity", core.DefaultSessionCapacity, "Maximum sessions kept by the memory store")
	flags.String("session-sqlite-path", core.DefaultConfig().Session.SQLitePath, "SQLite session database path")
	flags.String("session-redis-addr", core.DefaultConfig().Session.RedisAddr, "Redis address for the redis session store")
	flags.Int("session-redis-db", 0, "Redis database number")
	flags.String("session-cleanup-schedule", core.DefaultSessionCleanup, "Cron schedule for purging expired sessions")

	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Default API message language (%s)", supportedLangs))
	flags.Int("recently-played-limit", core.DefaultRecentlyPlayedLimit, "Distinct tracks returned for recently played")
	flags.Int("history-fetch-size", core.DefaultHistoryFetchSize, "Plays fetched before de-duplication (max 50)")
	flags.Int("liked-tracks-limit", core.DefaultLikedTracksLimit, "Liked tracks returned")
	flags.Int("top-tracks-limit", core.DefaultTopTracksLimit, "Top tracks returned")
	flags.Int("search-limit", core.DefaultSearchLimit, "Search results returned")
	flags.Int("min-search-length", core.DefaultMinSearchLength, "Minimum search query length")
	flags.Duration("transfer-delay", core.DefaultTransferDelay, "Wait after transferring playback before playing")
	flags.Duration("poll-interval", core.DefaultPollInterval, "Playback position poll interval")
	flags.String("device-name", core.DefaultDeviceName, "Preferred Spotify Connect device name")
	flags.Int("requests-per-minute", core.DefaultRequestsPerMinute, "API requests per session and route group per minute (0 disables)")

	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(newRecentCmd(), newDevicesCmd())
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureSession(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	if d := viper.GetDuration("server-read-timeout"); d > 0 {
		cfg.Server.ReadTimeout = d
	}
	if d := viper.GetDuration("server-write-timeout"); d > 0 {
		cfg.Server.WriteTimeout = d
	}
	if redirect := viper.GetString("server-login-redirect"); strings.HasPrefix(redirect, "/") {
		cfg.Server.LoginRedirect = redirect
	}

	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.APIBaseURL = viper.GetString("spotify-api-base-url")
	cfg.Spotify.TokenPath = viper.GetString("spotify-token-path")
	if cfg.Spotify.TokenPath == "" {
		cfg.Spotify.TokenPath = "./spotify_token.json"
	}

	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == core.DefaultServerHost {
			serverHost = "127.0.0.1" // Spotify only accepts loopback IPs for local callbacks
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/api/auth/callback", serverHost, cfg.Server.Port)
	}
}

func configureSession(cfg *core.Config) {
	cfg.Session.Backend = strings.ToLower(viper.GetString("session-backend"))
	if ttl := viper.GetDuration("session-ttl"); ttl > 0 {
		cfg.Session.TTL = ttl
	}
	if name := viper.GetString("session-cookie-name"); name != "" {
		cfg.Session.CookieName = name
	}
	cfg.Session.CookieSecure = viper.GetBool("session-cookie-secure")
	if capacity := viper.GetInt("session-capacity"); capacity > 0 {
		cfg.Session.Capacity = capacity
	}
	cfg.Session.SQLitePath = viper.GetString("session-sqlite-path")
	cfg.Session.RedisAddr = viper.GetString("session-redis-addr")
	cfg.Session.RedisDB = viper.GetInt("session-redis-db")
	if schedule := viper.GetString("session-cleanup-schedule"); schedule != "" {
		cfg.Session.CleanupSchedule = schedule
	}
}

func configureApp(cfg *core.Config) {
	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}
	if !i18n.IsSupported(cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(i18n.GetSupportedLanguages(), ", "))
		cfg.App.Language = i18n.DefaultLanguage
	}

	positive := func(key string, target *int) {
		if v := viper.GetInt(key); v > 0 {
			*target = v
		}
	}
	positive("recently-played-limit", &cfg.App.RecentlyPlayedLimit)
	positive("history-fetch-size", &cfg.App.HistoryFetchSize)
	positive("liked-tracks-limit", &cfg.App.LikedTracksLimit)
	positive("top-tracks-limit", &cfg.App.TopTracksLimit)
	positive("search-limit", &cfg.App.SearchLimit)
	positive("min-search-length", &cfg.App.MinSearchLength)

	if d := viper.GetDuration("transfer-delay"); d >= 0 {
		cfg.App.TransferDelay = d
	}
	if d := viper.GetDuration("poll-interval"); d > 0 {
		cfg.App.PollInterval = d
	}
	if name := viper.GetString("device-name"); name != "" {
		cfg.App.DeviceName = name
	}
	cfg.App.RequestsPerMinute = viper.GetInt("requests-per-minute")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.ToLower(format) == "text" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runPlayDeck(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting PlayDeck",
		zap.String("session_backend", config.Session.Backend),
		zap.String("redirect_url", config.Spotify.RedirectURL),
		zap.String("language", config.App.Language))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}

	return runServices(ctx, svcs)
}

type services struct {
	sessions   store.SessionStore
	janitor    *store.Janitor
	players    *player.Registry
	floodgate  *flood.Floodgate
	httpServer *httpserver.Server
}

func initializeServices() (*services, error) {
	sessions, err := store.Open(&config.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpserver.NewMetrics(registry)

	authenticator := auth.NewAuthenticator(&config.Spotify)
	handlers := auth.NewHandlers(authenticator, sessions, config,
		i18n.NewLocalizer(config.App.Language), logger.Named("auth")).
		WithObservers(metrics, metrics)

	players := player.NewRegistry(&config.App, metrics.ConnectedPlayers, logger.Named("player"))
	floodgate := flood.New(config.App.RequestsPerMinute)

	handlers.OnLogout(players.Close)
	handlers.OnLogout(floodgate.Forget)

	janitor := store.NewJanitor(sessions, config.Session.CleanupSchedule, logger.Named("janitor")).
		OnSize(metrics.SetActiveSessions)

	httpServer := httpserver.NewServer(config, httpserver.Deps{
		Auth:      handlers,
		Sessions:  sessions,
		Players:   players,
		Floodgate: floodgate,
		Metrics:   metrics,
		Gatherer:  registry,
	}, logger.Named("http"))

	return &services{
		sessions:   sessions,
		janitor:    janitor,
		players:    players,
		floodgate:  floodgate,
		httpServer: httpServer,
	}, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.janitor.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.players.Run(gCtx)
	})

	logger.Info("PlayDeck started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	err := g.Wait()

	svcs.floodgate.Stop()
	if closeErr := svcs.sessions.Close(); closeErr != nil {
		logger.Debug("Failed to close session store", zap.Error(closeErr))
	}

	if err != nil {
		logger.Error("PlayDeck stopped with error", zap.Error(err))
		return err
	}

	logger.Info("PlayDeck stopped gracefully")
	return nil
}

func validateConfig() error {
	if err := validateSpotifyConfig(); err != nil {
		return err
	}
	return validateSessionConfig()
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	return nil
}

func validateSessionConfig() error {
	switch config.Session.Backend {
	case core.SessionBackendMemory, core.SessionBackendSQLite:
	case core.SessionBackendRedis:
		if config.Session.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend: %s", config.Session.Backend)
	}
	return nil
}
