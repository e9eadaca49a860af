package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/festboard/internal/loadgen"
	"github.com/okian/festboard/pkg/logger"
)

// Default configuration constants.
const (
	defaultPrograms    = 500
	defaultStudents    = 200
	defaultTeams       = 20
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	defaultApproveRate = 0.8
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		programs = flag.Int("programs", defaultPrograms, "Number of programs to place (three placements each)")
		students = flag.Int("students", defaultStudents, "Size of the student pool")
		teams    = flag.Int("teams", defaultTeams, "Size of the team pool")
		approve  = flag.Float64("approve", defaultApproveRate, "Share of placements approved")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent requests")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Generator seed")
		watch    = flag.Bool("watch", true, "Count stream events during the run")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:      *baseURL,
		Programs:     *programs,
		Students:     *students,
		Teams:        *teams,
		ApproveRatio: *approve,
		Workers:      *workers,
		Timeout:      *timeout,
		Seed:         *seed,
		Watch:        *watch,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		os.Exit(1)
	}
}
