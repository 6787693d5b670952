package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config controls lane declarations and decision limits.
type Config struct {
	// Lanes are the collection-backed analysis lanes created for every
	// workflow, in execution order.
	Lanes []string `toml:"lanes"`
	// MaxAttempts bounds how many produced analyses a single lane may have
	// rejected before it parks in Exhausted.
	MaxAttempts int `toml:"max_attempts"`
	// ResumeWorkers bounds concurrent workflow loads during startup resume.
	ResumeWorkers int `toml:"resume_workers"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Lanes         string
	MaxAttempts   string
	ResumeWorkers string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if len(overlay.Lanes) > 0 {
		c.Lanes = overlay.Lanes
	}
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.ResumeWorkers != 0 {
		c.ResumeWorkers = overlay.ResumeWorkers
	}
}

func (c *Config) loadDefaults() {
	if len(c.Lanes) == 0 {
		c.Lanes = []string{"policy", "entity", "market"}
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.ResumeWorkers == 0 {
		c.ResumeWorkers = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Lanes != "" {
		if v := os.Getenv(env.Lanes); v != "" {
			lanes := make([]string, 0)
			for _, lane := range strings.Split(v, ",") {
				if lane = strings.TrimSpace(lane); lane != "" {
					lanes = append(lanes, lane)
				}
			}
			if len(lanes) > 0 {
				c.Lanes = lanes
			}
		}
	}

	setInt := func(envVar string, target *int) {
		if envVar == "" {
			return
		}
		if v := os.Getenv(envVar); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}

	setInt(env.MaxAttempts, &c.MaxAttempts)
	setInt(env.ResumeWorkers, &c.ResumeWorkers)
}

func (c *Config) validate() error {
	if len(c.Lanes) == 0 {
		return fmt.Errorf("at least one lane required")
	}

	seen := make(map[string]bool, len(c.Lanes))
	for _, lane := range c.Lanes {
		if seen[lane] {
			return fmt.Errorf("duplicate lane: %s", lane)
		}
		seen[lane] = true
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	return nil
}
