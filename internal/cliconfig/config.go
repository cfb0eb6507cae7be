// Package cliconfig assembles the pipeline configuration from defaults, an
// optional TOML file, HISTOSHIP_* environment variables and command-line
// flags, in ascending precedence. The resulting Config value is passed
// explicitly into every component constructor; nothing reads configuration
// ambiently.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hepworks/histoship/internal/domain"
)

// DestinationKind selects the transfer mechanism for a site. The kind is
// fixed at configuration-load time so the transfer manager dispatches on a
// closed type, never on string inspection.
type DestinationKind int

const (
	// FilesystemSite delivers by copy-and-rename into a directory root.
	FilesystemSite DestinationKind = iota
	// StorageGridSite delivers by pushing to an S3-compatible object
	// endpoint.
	StorageGridSite
)

// GridSiteName is the reserved site name that selects a storage-grid push
// even without an s3:// spec scheme.
const GridSiteName = "EOS"

// Destination is one configured delivery target, in declaration order.
type Destination struct {
	Name string
	Kind DestinationKind

	// Path is the directory root of a filesystem site.
	Path string

	// Spec is the s3://bucket/prefix spec of a storage-grid site.
	Spec string
}

// Config is the full configuration surface of the pipeline.
type Config struct {
	// DataFolder roots the staging tree: <DataFolder>/<subsystem>/Incoming
	// and <DataFolder>/tempStorage.
	DataFolder string

	// SubsystemList is the set of valid subsystem tags.
	SubsystemList []string

	// Destinations are the delivery targets in declaration order.
	Destinations []Destination

	TransferRetries int           // dataTransferRetries
	TransferSleep   time.Duration // dataTransferTimeToSleep
	TransferTimeout time.Duration // dataTransferTimeout, per-attempt bound

	ReplaySleep     time.Duration // dataReplayTimeToSleep
	ReplaySourceDir string        // dataReplaySourceDirectory; unset disables replay
	ReplayDestDir   string        // dataReplayDestinationDirectory
	ReplayTempDir   string        // dataReplayTempStorageDirectory
	ReplayMaxFiles  int           // dataReplayMaxFilesPerReplay

	// InboxDirectory enables the directory-watch live source.
	InboxDirectory string

	// ListenAddress enables the HTTP push live source.
	ListenAddress string

	// MetricsAddress enables the prometheus /metrics listener.
	MetricsAddress string

	// Grid options shared by all storage-grid sites.
	GridEndpoint        string
	GridRegion          string
	GridForcePathStyle  bool
	GridAccessKeyID     string
	GridSecretAccessKey string

	LogLevel string
	Once     bool
}

// DefaultConfig returns the configuration defaults. Grid credentials come
// from the environment only.
func DefaultConfig() Config {
	return Config{
		DataFolder:          "data",
		SubsystemList:       []string{"EMC", "HLT"},
		TransferRetries:     3,
		TransferSleep:       60 * time.Second,
		TransferTimeout:     2 * time.Minute,
		ReplaySleep:         30 * time.Second,
		ReplayMaxFiles:      10,
		GridRegion:          "us-east-1",
		LogLevel:            "info",
		GridAccessKeyID:     os.Getenv("HISTOSHIP_GRID_ACCESS_KEY_ID"),
		GridSecretAccessKey: os.Getenv("HISTOSHIP_GRID_SECRET_ACCESS_KEY"),
	}
}

// DefaultConfigPath returns $HOME/.histoship/config.toml, or empty when the
// home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".histoship", "config.toml")
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// ReplayEnabled reports whether a replay session is configured.
func (c *Config) ReplayEnabled() bool { return c.ReplaySourceDir != "" }

// DestinationNames returns the configured site names in declaration order.
func (c *Config) DestinationNames() []string {
	names := make([]string, len(c.Destinations))
	for i, d := range c.Destinations {
		names[i] = d.Name
	}
	return names
}

// Validate checks the configuration and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataFolder == "" {
		return fmt.Errorf("%w: dataFolder is required", domain.ErrInvalidConfig)
	}
	if len(c.SubsystemList) == 0 {
		return fmt.Errorf("%w: subsystemList must not be empty", domain.ErrInvalidConfig)
	}
	seen := map[string]bool{}
	for _, sub := range c.SubsystemList {
		if sub == "" || seen[sub] {
			return fmt.Errorf("%w: empty or duplicate subsystem tag", domain.ErrInvalidConfig)
		}
		seen[sub] = true
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("%w: at least one transfer location is required", domain.ErrInvalidConfig)
	}
	names := map[string]bool{}
	for i := range c.Destinations {
		d := &c.Destinations[i]
		if d.Name == "" || names[d.Name] {
			return fmt.Errorf("%w: empty or duplicate transfer location name", domain.ErrInvalidConfig)
		}
		names[d.Name] = true
		switch d.Kind {
		case FilesystemSite:
			if d.Path == "" {
				return fmt.Errorf("%w: transfer location %s has no path", domain.ErrInvalidConfig, d.Name)
			}
		case StorageGridSite:
			if d.Spec == "" {
				return fmt.Errorf("%w: storage-grid location %s has no spec", domain.ErrInvalidConfig, d.Name)
			}
		}
	}
	if c.TransferRetries < 1 {
		return fmt.Errorf("%w: dataTransferRetries must be >= 1", domain.ErrInvalidConfig)
	}
	if c.TransferSleep <= 0 || c.ReplaySleep <= 0 {
		return fmt.Errorf("%w: sleep intervals must be positive", domain.ErrInvalidConfig)
	}
	if c.ReplayEnabled() {
		if c.InboxDirectory != "" || c.ListenAddress != "" {
			// Live reception and replay share the destination directories;
			// running both concurrently is undefined.
			return fmt.Errorf("%w: replay mode excludes live sources", domain.ErrInvalidConfig)
		}
		if c.ReplayMaxFiles < 1 {
			return fmt.Errorf("%w: dataReplayMaxFilesPerReplay must be >= 1", domain.ErrInvalidConfig)
		}
		if c.ReplayDestDir == "" {
			c.ReplayDestDir = c.DataFolder
		}
		if c.ReplayTempDir == "" {
			c.ReplayTempDir = filepath.Join(c.DataFolder, "replayTempStorage")
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// configSetter applies values while respecting flag precedence: a value is
// skipped when the corresponding flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setSeconds(flag string, value int, dst *time.Duration) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = time.Duration(value) * time.Second
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i > 0 {
		*dst = i
	}
	return nil
}

func (s *configSetter) setSecondsFromString(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i > 0 {
		*dst = time.Duration(i) * time.Second
	}
	return nil
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
