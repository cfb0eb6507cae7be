package cliconfig

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// fileLocation is one entry of dataTransferLocations. A location with a spec
// (or the reserved EOS name) is a storage-grid site; otherwise it is a
// filesystem site.
type fileLocation struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
	Spec string `toml:"spec"`
}

// fileConfig mirrors Config for TOML. The recognized option names are kept
// verbatim; durations are plain seconds as in the recognized surface.
type fileConfig struct {
	DataFolder    string   `toml:"dataFolder"`
	SubsystemList []string `toml:"subsystemList"`

	DataTransferRetries     int            `toml:"dataTransferRetries"`
	DataTransferTimeToSleep int            `toml:"dataTransferTimeToSleep"`
	DataTransferTimeout     int            `toml:"dataTransferTimeout"`
	DataTransferLocations   []fileLocation `toml:"dataTransferLocations"`

	DataReplayTimeToSleep          int    `toml:"dataReplayTimeToSleep"`
	DataReplaySourceDirectory      string `toml:"dataReplaySourceDirectory"`
	DataReplayDestinationDirectory string `toml:"dataReplayDestinationDirectory"`
	DataReplayTempStorageDirectory string `toml:"dataReplayTempStorageDirectory"`
	DataReplayMaxFilesPerReplay    int    `toml:"dataReplayMaxFilesPerReplay"`

	InboxDirectory string `toml:"inboxDirectory"`
	ListenAddress  string `toml:"listenAddress"`
	MetricsAddress string `toml:"metricsAddress"`

	GridEndpoint       string `toml:"gridEndpoint"`
	GridRegion         string `toml:"gridRegion"`
	GridForcePathStyle *bool  `toml:"gridForcePathStyle"`

	LogLevel string `toml:"logLevel"`
	Once     *bool  `toml:"once"`
}

// LoadFileConfig parses a TOML config file.
func LoadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// ApplyFileConfig merges file values into cfg, skipping anything already set
// by an explicit flag.
func ApplyFileConfig(cfg *Config, fc *fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-folder", fc.DataFolder, &cfg.DataFolder)
	if len(fc.SubsystemList) > 0 && !changed["subsystems"] {
		cfg.SubsystemList = fc.SubsystemList
	}

	s.setInt("transfer-retries", fc.DataTransferRetries, &cfg.TransferRetries)
	s.setSeconds("transfer-sleep", fc.DataTransferTimeToSleep, &cfg.TransferSleep)
	s.setSeconds("transfer-timeout", fc.DataTransferTimeout, &cfg.TransferTimeout)

	s.setSeconds("replay-sleep", fc.DataReplayTimeToSleep, &cfg.ReplaySleep)
	s.setString("replay-source", fc.DataReplaySourceDirectory, &cfg.ReplaySourceDir)
	s.setString("replay-dest", fc.DataReplayDestinationDirectory, &cfg.ReplayDestDir)
	s.setString("replay-temp", fc.DataReplayTempStorageDirectory, &cfg.ReplayTempDir)
	s.setInt("replay-max-files", fc.DataReplayMaxFilesPerReplay, &cfg.ReplayMaxFiles)

	s.setString("inbox", fc.InboxDirectory, &cfg.InboxDirectory)
	s.setString("listen", fc.ListenAddress, &cfg.ListenAddress)
	s.setString("metrics", fc.MetricsAddress, &cfg.MetricsAddress)

	s.setString("grid-endpoint", fc.GridEndpoint, &cfg.GridEndpoint)
	s.setString("grid-region", fc.GridRegion, &cfg.GridRegion)
	s.setBool("grid-path-style", fc.GridForcePathStyle, &cfg.GridForcePathStyle)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("once", fc.Once, &cfg.Once)

	if len(fc.DataTransferLocations) > 0 {
		dests, err := parseLocations(fc.DataTransferLocations)
		if err != nil {
			return err
		}
		cfg.Destinations = dests
	}
	return nil
}

// parseLocations resolves each entry into its typed destination, preserving
// declaration order.
func parseLocations(locations []fileLocation) ([]Destination, error) {
	dests := make([]Destination, 0, len(locations))
	for _, loc := range locations {
		d := Destination{Name: loc.Name, Path: loc.Path, Spec: loc.Spec}
		switch {
		case loc.Spec != "" || loc.Name == GridSiteName:
			d.Kind = StorageGridSite
			if loc.Spec == "" {
				return nil, fmt.Errorf("transfer location %s: storage-grid sites need an s3:// spec", loc.Name)
			}
			if !strings.HasPrefix(loc.Spec, "s3://") {
				return nil, fmt.Errorf("transfer location %s: spec %q is not s3://", loc.Name, loc.Spec)
			}
		default:
			d.Kind = FilesystemSite
		}
		dests = append(dests, d)
	}
	return dests, nil
}
