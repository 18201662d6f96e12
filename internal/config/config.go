package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"tripchat/internal/constants"
	"tripchat/internal/models"
	"tripchat/internal/security"
)

var ErrMissingTransportURL = models.ConfigError{Message: "missing transport URL"}

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Transport.URL == "" {
		return ErrMissingTransportURL
	}
	// An empty cache path disables the local history cache.

	if c.Transport.WriteTimeoutSec <= 0 {
		c.Transport.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}

	if c.Chat.CorrelationWindowSec <= 0 {
		c.Chat.CorrelationWindowSec = constants.DefaultCorrelationWindowSec
	}
	if c.Chat.TypingIdleSec <= 0 {
		c.Chat.TypingIdleSec = constants.DefaultTypingIdleSec
	}
	if c.Chat.ReadProximityPx <= 0 {
		c.Chat.ReadProximityPx = constants.DefaultReadProximityPx
	}
	if c.Chat.AckTimeoutSec <= 0 {
		c.Chat.AckTimeoutSec = constants.DefaultAckTimeoutSec
	}
	if c.Chat.HistoryPageSize <= 0 {
		c.Chat.HistoryPageSize = constants.DefaultHistoryPageSize
	}

	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = constants.DefaultCacheRetentionDays
	}

	// Set default media configuration if not provided
	if c.Media.MaxSizeMB.Image == 0 {
		c.Media.MaxSizeMB.Image = constants.DefaultMaxImageSizeMB
	}
	if c.Media.MaxSizeMB.Video == 0 {
		c.Media.MaxSizeMB.Video = constants.DefaultMaxVideoSizeMB
	}
	if c.Media.MaxSizeMB.Voice == 0 {
		c.Media.MaxSizeMB.Voice = constants.DefaultMaxVoiceSizeMB
	}
	if c.Media.MaxSizeMB.File == 0 {
		c.Media.MaxSizeMB.File = constants.DefaultMaxFileSizeMB
	}

	// Set default allowed types if not provided
	if len(c.Media.AllowedTypes.Image) == 0 {
		c.Media.AllowedTypes.Image = constants.DefaultImageTypes
	}
	if len(c.Media.AllowedTypes.Video) == 0 {
		c.Media.AllowedTypes.Video = constants.DefaultVideoTypes
	}
	if len(c.Media.AllowedTypes.Voice) == 0 {
		c.Media.AllowedTypes.Voice = constants.DefaultVoiceTypes
	}
	if len(c.Media.AllowedTypes.File) == 0 {
		c.Media.AllowedTypes.File = constants.DefaultFileTypes
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("TRIPCHAT_TRANSPORT_URL"); url != "" {
		c.Transport.URL = url
	}
	if path := os.Getenv("TRIPCHAT_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}
	if level := os.Getenv("TRIPCHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("TRIPCHAT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}
