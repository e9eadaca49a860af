package loadgen

import (
	"fmt"
	"time"

	"github.com/okian/festboard/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Programs     int           // Number of programs to place
	Students     int           // Size of the student pool
	Teams        int           // Size of the team pool
	ApproveRatio float64       // Share of placements approved; the rest are rejected
	Workers      int           // Number of concurrent requests
	Timeout      time.Duration // HTTP request timeout
	Seed         int64         // Seed for the placement generator
	Watch        bool          // Count stream events while running
}

// Stats holds run statistics.
type Stats struct {
	Submitted      int
	Approved       int
	Rejected       int
	Failed         int
	BoardRows      int
	StreamEvents   map[string]int
	StartTime      time.Time
	Duration       time.Duration
	RequestsPerSec float64
}

// placement is one generated jury decision.
type placement struct {
	record  model.Record
	approve bool
}

// Validate checks that the run can generate placements.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Programs < 1:
		return fmt.Errorf("%w: programs must be positive", ErrInvalidConfig)
	case c.Students < 3 && c.Teams < 3:
		return fmt.Errorf("%w: need at least three students or three teams", ErrInvalidConfig)
	case c.ApproveRatio < 0 || c.ApproveRatio > 1:
		return fmt.Errorf("%w: approve ratio must be within [0, 1]", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
