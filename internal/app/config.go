package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModelPath  string // .hcl file or directory of .hcl files
	OutputPath string // bundle destination; empty means stdout

	LogFormat string
	LogLevel  string
	Indent    bool
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("ModelPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
