package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ArtistConfig maps artists to remote locations for shot sync jobs.
//
//	artists:
//	  alice: london
//	locations:
//	  london: {agent_id: 12, root: /mnt/projects, os: linux}
//	local: {agent_id: 1, root: /Volumes/projects, os: osx}
//	paths:
//	  relative_vfx: ${SHOW}/shots/${SHOT}/vfx
type ArtistConfig struct {
	Artists   map[string]string   `yaml:"artists"`
	Locations map[string]Endpoint `yaml:"locations"`
	Local     *Endpoint           `yaml:"local"`
	Paths     ArtistPaths         `yaml:"paths"`
	Defaults  ArtistDefaults      `yaml:"defaults"`
}

// Endpoint is one side of an artist sync job.
type Endpoint struct {
	AgentID int64  `yaml:"agent_id"`
	Root    string `yaml:"root"`
	OS      string `yaml:"os"`
}

// ArtistPaths holds path templates. ${SHOW} and ${SHOT} are substituted.
type ArtistPaths struct {
	RelativeVFX string `yaml:"relative_vfx"`
}

// ArtistDefaults are passed through to every created job.
type ArtistDefaults struct {
	SyncDirection  string   `yaml:"sync_direction"`
	ProfileID      string   `yaml:"profile_id"`
	Priority       string   `yaml:"priority"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// LoadArtistConfig reads an artist config file.
func LoadArtistConfig(path string) (*ArtistConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read artist config: %w", err)
	}

	var cfg ArtistConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse artist config: %w", err)
	}
	if cfg.Defaults.SyncDirection == "" {
		cfg.Defaults.SyncDirection = "bidirectional"
	}
	return &cfg, nil
}

// LocationFor returns the location key and endpoint assigned to artist.
func (c *ArtistConfig) LocationFor(artist string) (string, Endpoint, error) {
	key, ok := c.Artists[artist]
	if !ok {
		return "", Endpoint{}, fmt.Errorf("artist %q not found in configuration", artist)
	}
	loc, ok := c.Locations[key]
	if !ok {
		return "", Endpoint{}, fmt.Errorf("location %q not found in configuration", key)
	}
	if err := loc.validate(fmt.Sprintf("location %q", key)); err != nil {
		return "", Endpoint{}, err
	}
	return key, loc, nil
}

// LocalEndpoint returns the studio-side endpoint.
func (c *ArtistConfig) LocalEndpoint() (Endpoint, error) {
	if c.Local == nil {
		return Endpoint{}, errors.New("'local' section missing in configuration")
	}
	if err := c.Local.validate("'local'"); err != nil {
		return Endpoint{}, err
	}
	return *c.Local, nil
}

func (e Endpoint) validate(what string) error {
	switch {
	case e.AgentID == 0:
		return fmt.Errorf("%s missing 'agent_id' in configuration", what)
	case e.Root == "":
		return fmt.Errorf("%s missing 'root' in configuration", what)
	case e.OS == "":
		return fmt.Errorf("%s missing 'os' in configuration", what)
	}
	return nil
}
