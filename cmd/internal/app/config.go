package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// APIBaseURL is the HTTP API root (auth, rooms, analysis).
	APIBaseURL string
	// WSBaseURL is the chat socket root; room ids are appended as a path
	// segment. Defaults to APIBaseURL with the scheme flipped to ws.
	WSBaseURL string

	LogLevel  string
	LogFormat string

	Phone string

	DialTimeout     time.Duration
	ReconnectDelay  time.Duration
	ReconnectBudget int
	ConnectTimeout  time.Duration

	AnalysisPollInterval time.Duration
	AnalysisPollBudget   int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	api := EnvString("IMZO_API_URL", "http://127.0.0.1:8091")

	return Config{
		APIBaseURL: api,
		WSBaseURL:  EnvString("IMZO_WS_URL", deriveWSBase(api)),

		LogLevel:  EnvString("IMZO_LOG_LEVEL", "info"),
		LogFormat: EnvString("IMZO_LOG_FORMAT", "pretty"),

		Phone: EnvString("IMZO_PHONE", ""),

		DialTimeout:     EnvDuration("IMZO_WS_DIAL_TIMEOUT", 10*time.Second),
		ReconnectDelay:  EnvDuration("IMZO_WS_RECONNECT_DELAY", 3*time.Second),
		ReconnectBudget: EnvInt("IMZO_WS_RECONNECT_BUDGET", 5),
		ConnectTimeout:  EnvDuration("IMZO_WS_CONNECT_TIMEOUT", 10*time.Second),

		AnalysisPollInterval: EnvDuration("IMZO_ANALYSIS_POLL_INTERVAL", 4*time.Second),
		AnalysisPollBudget:   EnvInt("IMZO_ANALYSIS_POLL_BUDGET", 30),
	}
}

// deriveWSBase maps an HTTP API root to the matching websocket root.
func deriveWSBase(api string) string {
	switch {
	case len(api) > 8 && api[:8] == "https://":
		return "wss://" + api[8:] + "/ws"
	case len(api) > 7 && api[:7] == "http://":
		return "ws://" + api[7:] + "/ws"
	default:
		return api + "/ws"
	}
}
