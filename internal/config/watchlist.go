package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

// LoadWatchlist reads, normalizes and validates a watchlist YAML file.
// Environment references like ${VAR} are expanded before parsing.
func LoadWatchlist(path string) (models.Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Watchlist{}, fmt.Errorf("read watchlist: %w", err)
	}
	return ParseWatchlist(data)
}

// ParseWatchlist decodes watchlist YAML.
func ParseWatchlist(data []byte) (models.Watchlist, error) {
	var wl models.Watchlist
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &wl); err != nil {
		return models.Watchlist{}, fmt.Errorf("parse watchlist: %w", err)
	}
	wl.Normalize()
	if err := wl.Validate(); err != nil {
		return models.Watchlist{}, fmt.Errorf("invalid watchlist: %w", err)
	}
	return wl, nil
}
