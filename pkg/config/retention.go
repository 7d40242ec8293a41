package config

import "time"

// RetentionConfig controls how often the cleanup sweep (§4.2 `cleanup`)
// runs and how long archived records are kept before permanent removal.
type RetentionConfig struct {
	// ArchiveRetentionDays is how many days an archived session record is
	// kept on disk before it is permanently removed. Zero means forever.
	ArchiveRetentionDays int `yaml:"archive_retention_days"`

	// CleanupInterval is how often the periodic cleanup sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ArchiveRetentionDays: 90,
		CleanupInterval:      1 * time.Hour,
	}
}
