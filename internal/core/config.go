package core

import (
	"time"
)

// Default configuration values
const (
	DefaultServerHost          = "0.0.0.0"
	DefaultServerPort          = 8080
	DefaultSessionTTL          = 7 * 24 * time.Hour
	DefaultSessionCookie       = "playdeck_session"
	DefaultSessionCapacity     = 10000
	DefaultSessionCleanup      = "@every 10m"
	DefaultRecentlyPlayedLimit = 12
	DefaultHistoryFetchSize    = 50
	DefaultLikedTracksLimit    = 50
	DefaultTopTracksLimit      = 10
	DefaultSearchLimit         = 10
	DefaultMinSearchLength     = 3
	DefaultTransferDelay       = time.Second
	DefaultPollInterval        = time.Second
	DefaultRequestsPerMinute   = 120
	DefaultDeviceName          = "PlayDeck Web Player"
	DefaultLanguage            = "en"
)

// Session backends
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

type Config struct {
	Spotify SpotifyConfig
	Server  ServerConfig
	Session SessionConfig
	Log     LogConfig
	App     AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// APIBaseURL overrides https://api.spotify.com/v1/ (tests only).
	APIBaseURL string
	// TokenPath is where the CLI subcommands keep their token.
	TokenPath string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// LoginRedirect is where the browser lands after a successful login.
	LoginRedirect string
}

type SessionConfig struct {
	Backend      string
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
	Capacity     int
	SQLitePath   string
	RedisAddr    string
	RedisDB      int
	// CleanupSchedule is a cron spec for purging expired sessions.
	CleanupSchedule string
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Language            string
	RecentlyPlayedLimit int
	HistoryFetchSize    int
	LikedTracksLimit    int
	TopTracksLimit      int
	SearchLimit         int
	MinSearchLength     int
	TransferDelay       time.Duration
	PollInterval        time.Duration
	DeviceName          string
	RequestsPerMinute   int
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/api/auth/callback",
			TokenPath:   "./spotify_token.json",
		},
		Server: ServerConfig{
			Host:          DefaultServerHost,
			Port:          DefaultServerPort,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			LoginRedirect: "/home",
		},
		Session: SessionConfig{
			Backend:         SessionBackendMemory,
			TTL:             DefaultSessionTTL,
			CookieName:      DefaultSessionCookie,
			Capacity:        DefaultSessionCapacity,
			SQLitePath:      "./playdeck_sessions.db",
			RedisAddr:       "localhost:6379",
			CleanupSchedule: DefaultSessionCleanup,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Language:            DefaultLanguage,
			RecentlyPlayedLimit: DefaultRecentlyPlayedLimit,
			HistoryFetchSize:    DefaultHistoryFetchSize,
			LikedTracksLimit:    DefaultLikedTracksLimit,
			TopTracksLimit:      DefaultTopTracksLimit,
			SearchLimit:         DefaultSearchLimit,
			MinSearchLength:     DefaultMinSearchLength,
			TransferDelay:       DefaultTransferDelay,
			PollInterval:        DefaultPollInterval,
			DeviceName:          DefaultDeviceName,
			RequestsPerMinute:   DefaultRequestsPerMinute,
		},
	}
}
