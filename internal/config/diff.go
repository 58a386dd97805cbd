package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.grpc_addr", old.Server.GRPCAddr != new.Server.GRPCAddr)
	restart("server.preview_origins", !slices.Equal(old.Server.PreviewOrigins, new.Server.PreviewOrigins))
	restart("audio", old.Audio != new.Audio)
	restart("detector", old.Detector != new.Detector)
	restart("video", old.Video != new.Video)
	restart("playback", old.Playback != new.Playback)

	return d
}
