// Package configs sources the proxy's process-level configuration from
// its CLI surface: `-c CONFIG`, `-b BUFLEN`, `-h`.
package configs

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

const (
	// DefaultConfigPath is where the backend configuration is read from
	// absent `-c`.
	DefaultConfigPath = "/etc/sni-proxy.conf"
	// DefaultBufLen is the ring buffer capacity, in bytes, for each
	// proxied direction absent `-b`.
	DefaultBufLen = 16384
)

// Config holds the process flags. Everything else the process needs
// (listen port, per-backend addresses) lives in the backend
// configuration file at ConfigPath, loaded separately by
// internal/backends.
type Config struct {
	ConfigPath string
	BufLen     int
}

// BindFlags registers -c/-b on cmd and returns the Config struct they
// populate once the command's flags have been parsed.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := &Config{}
	cmd.Flags().StringVarP(&cfg.ConfigPath, "config", "c", DefaultConfigPath, "path to backend configuration file")
	cmd.Flags().IntVarP(&cfg.BufLen, "buflen", "b", DefaultBufLen, "ring buffer capacity in bytes for each proxied direction")
	return cfg
}

// Validate checks the ranges flag parsing alone doesn't enforce.
func (c *Config) Validate() error {
	var errs []error
	if c.ConfigPath == "" {
		errs = append(errs, errors.New("configs: config path must not be empty"))
	}
	if c.BufLen <= 0 {
		errs = append(errs, fmt.Errorf("configs: buffer length must be positive, got %d", c.BufLen))
	}
	return errors.Join(errs...)
}
