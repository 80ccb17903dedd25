package retention

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the retention windows, in days, and the weekly full backup day.
type Config struct {
	AuditRetentionDays   int    `mapstructure:"audit_retention_days" yaml:"audit_retention_days" validate:"gte=0"`
	ArchiveRetentionDays int    `mapstructure:"archive_retention_days" yaml:"archive_retention_days" validate:"gte=0"`
	BackupRetentionDays  int    `mapstructure:"backup_retention_days" yaml:"backup_retention_days" validate:"gte=0"`
	FullBackupDay        string `mapstructure:"full_backup_day" yaml:"full_backup_day"`
}

// DefaultConfig returns the standard policy: weekly full backups on Sunday,
// backups kept 30 days, audit entries archived after 90 days and archives
// kept for a year.
func DefaultConfig() Config {
	return Config{
		AuditRetentionDays:   90,
		ArchiveRetentionDays: 365,
		BackupRetentionDays:  30,
		FullBackupDay:        "sunday",
	}
}

// SetDefaults fills unset fields from DefaultConfig.
func (c *Config) SetDefaults() {
	def := DefaultConfig()
	if c.AuditRetentionDays == 0 {
		c.AuditRetentionDays = def.AuditRetentionDays
	}
	if c.ArchiveRetentionDays == 0 {
		c.ArchiveRetentionDays = def.ArchiveRetentionDays
	}
	if c.BackupRetentionDays == 0 {
		c.BackupRetentionDays = def.BackupRetentionDays
	}
	if c.FullBackupDay == "" {
		c.FullBackupDay = def.FullBackupDay
	}
}

// Validate checks the windows and the anchor day.
func (c *Config) Validate() error {
	if c.AuditRetentionDays < 0 || c.ArchiveRetentionDays < 0 || c.BackupRetentionDays < 0 {
		return fmt.Errorf("retention windows cannot be negative")
	}
	if _, err := c.Weekday(); err != nil {
		return err
	}
	return nil
}

// Weekday parses FullBackupDay. Three-letter abbreviations are accepted.
func (c *Config) Weekday() (time.Weekday, error) {
	day := strings.ToLower(strings.TrimSpace(c.FullBackupDay))
	if day == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if day == name || day == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid full_backup_day %q", c.FullBackupDay)
}
