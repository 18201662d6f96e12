package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Chat      ChatConfig      `json:"chat"`
	Cache     CacheConfig     `json:"cache"`
	Media     MediaConfig     `json:"media"`
	LogLevel  string          `json:"log_level"`
	Transport TransportConfig `json:"transport"`
}

// TransportConfig holds the persistent channel endpoint configuration.
type TransportConfig struct {
	URL             string `json:"url"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
}

// ChatConfig holds the synchronization engine tunables.
type ChatConfig struct {
	CorrelationWindowSec int `json:"correlationWindowSec"`
	TypingIdleSec        int `json:"typingIdleSec"`
	ReadProximityPx      int `json:"readProximityPx"`
	HistoryPageSize      int `json:"historyPageSize"`
	AckTimeoutSec        int `json:"ackTimeoutSec"`
}

// CacheConfig holds the local history cache configuration.
type CacheConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retentionDays"`
}

// MediaConfig holds attachment validation limits and the upload endpoint.
type MediaConfig struct {
	UploadURL    string            `json:"uploadUrl"`
	MaxSizeMB    MediaSizeLimits   `json:"maxSizeMB"`
	AllowedTypes MediaAllowedTypes `json:"allowedTypes"`
}

// MediaSizeLimits defines size limits per attachment type in MB.
type MediaSizeLimits struct {
	Image int `json:"image"`
	Video int `json:"video"`
	Voice int `json:"voice"`
	File  int `json:"file"`
}

// MediaAllowedTypes defines allowed file extensions per attachment type.
type MediaAllowedTypes struct {
	Image []string `json:"image"`
	Video []string `json:"video"`
	Voice []string `json:"voice"`
	File  []string `json:"file"`
}

// ServerConfig holds the debug HTTP server configuration.
type ServerConfig struct {
	Port int `json:"port"`
}

// ConfigError represents a configuration validation failure.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// Local cache encryption parameters.
const (
	NonceSize  = 12
	KeySize    = 32
	Iterations = 100000
)
