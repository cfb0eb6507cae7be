package cliconfig

import "os"

// ApplyEnvConfig merges HISTOSHIP_* environment variables into cfg. Env
// values override the config file but lose to explicit flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-folder", os.Getenv("HISTOSHIP_DATA_FOLDER"), &cfg.DataFolder)

	if err := s.setIntFromString("transfer-retries", os.Getenv("HISTOSHIP_TRANSFER_RETRIES"), &cfg.TransferRetries); err != nil {
		return err
	}
	if err := s.setSecondsFromString("transfer-sleep", os.Getenv("HISTOSHIP_TRANSFER_SLEEP"), &cfg.TransferSleep); err != nil {
		return err
	}
	if err := s.setSecondsFromString("transfer-timeout", os.Getenv("HISTOSHIP_TRANSFER_TIMEOUT"), &cfg.TransferTimeout); err != nil {
		return err
	}
	if err := s.setSecondsFromString("replay-sleep", os.Getenv("HISTOSHIP_REPLAY_SLEEP"), &cfg.ReplaySleep); err != nil {
		return err
	}
	s.setString("replay-source", os.Getenv("HISTOSHIP_REPLAY_SOURCE"), &cfg.ReplaySourceDir)
	s.setString("replay-dest", os.Getenv("HISTOSHIP_REPLAY_DEST"), &cfg.ReplayDestDir)
	s.setString("replay-temp", os.Getenv("HISTOSHIP_REPLAY_TEMP"), &cfg.ReplayTempDir)
	if err := s.setIntFromString("replay-max-files", os.Getenv("HISTOSHIP_REPLAY_MAX_FILES"), &cfg.ReplayMaxFiles); err != nil {
		return err
	}

	s.setString("inbox", os.Getenv("HISTOSHIP_INBOX"), &cfg.InboxDirectory)
	s.setString("listen", os.Getenv("HISTOSHIP_LISTEN"), &cfg.ListenAddress)
	s.setString("metrics", os.Getenv("HISTOSHIP_METRICS"), &cfg.MetricsAddress)

	s.setString("grid-endpoint", os.Getenv("HISTOSHIP_GRID_ENDPOINT"), &cfg.GridEndpoint)
	s.setString("grid-region", os.Getenv("HISTOSHIP_GRID_REGION"), &cfg.GridRegion)
	s.setBoolFromString("grid-path-style", os.Getenv("HISTOSHIP_GRID_PATH_STYLE"), &cfg.GridForcePathStyle)

	s.setString("log-level", os.Getenv("HISTOSHIP_LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("once", os.Getenv("HISTOSHIP_ONCE"), &cfg.Once)

	return nil
}
