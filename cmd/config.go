package cmd

import (
	"fmt"

	"github.com/AsafMeizner/reels-battle/internal/config"
)

// LoadConfig resolves the configuration for a command and checks the
// combinations config.Load cannot see on its own.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigFile = flagConfig
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}
