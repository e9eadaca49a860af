// Package loadgen drives a running festboard over HTTP and verifies that the
// served leaderboard equals a local recompute of the approved records.
package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/okian/festboard/internal/domain/leaderboard"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/internal/domain/types"
	"github.com/okian/festboard/pkg/logger"
)

// streamSettle bounds how long Run waits for stream events after the last
// decision.
const streamSettle = 2 * time.Second

// Run submits generated placements, approves or rejects each of them and
// verifies the leaderboard.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("loadgen")
	client := newHTTPClient(strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout)
	stats := &Stats{StartTime: time.Now()}

	if err := client.get(ctx, "/healthz", nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	var w *watcher
	if cfg.Watch {
		var err error
		if w, err = watch(ctx, client.baseURL); err != nil {
			return nil, err
		}
		defer w.close()
	}

	placements := generatePlacements(cfg)
	log.Info(ctx, "submitting placements",
		logger.Int("count", len(placements)),
		logger.Int("workers", cfg.Workers),
	)

	var failed atomic.Int64
	ids := make([]string, len(placements))
	err := fanOut(ctx, cfg.Workers, len(placements), func(ctx context.Context, i int) {
		var rec model.Record
		if err := client.post(ctx, "/results", placements[i].record, http.StatusCreated, &rec); err != nil {
			failed.Add(1)
			log.Debug(ctx, "submit failed", logger.Error(err))
			return
		}
		ids[i] = rec.ID
	})
	if err != nil {
		return nil, err
	}

	var approved, rejected atomic.Int64
	err = fanOut(ctx, cfg.Workers, len(placements), func(ctx context.Context, i int) {
		if ids[i] == "" {
			return
		}
		action, counter := "/reject", &rejected
		if placements[i].approve {
			action, counter = "/approve", &approved
		}
		if err := client.post(ctx, "/results/"+ids[i]+action, nil, http.StatusOK, nil); err != nil {
			failed.Add(1)
			log.Debug(ctx, "decision failed", logger.String("id", ids[i]), logger.Error(err))
			return
		}
		counter.Add(1)
	})
	if err != nil {
		return nil, err
	}

	stats.Submitted = len(placements) - countEmpty(ids)
	stats.Approved = int(approved.Load())
	stats.Rejected = int(rejected.Load())
	stats.Failed = int(failed.Load())

	rows, err := verify(ctx, client)
	if err != nil {
		return stats, err
	}
	stats.BoardRows = rows

	if w != nil {
		stats.StreamEvents = w.wait(ctx, model.EventResultApproved, stats.Approved, streamSettle)
	}

	stats.Duration = time.Since(stats.StartTime)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.RequestsPerSec = float64(stats.Submitted+stats.Approved+stats.Rejected) / secs
	}
	logStats(ctx, log, stats)
	return stats, nil
}

// fanOut runs fn for 0..n-1 on at most workers goroutines.
func fanOut(ctx context.Context, workers, n int, fn func(context.Context, int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load run cancelled: %w", err)
	}
	return nil
}

// verify compares the served board with a local recompute of the served
// approved records and returns the number of rows.
func verify(ctx context.Context, client *HTTPClient) (int, error) {
	var records []model.Record
	if err := client.get(ctx, "/results?status=approved", &records); err != nil {
		return 0, fmt.Errorf("list approved: %w", err)
	}
	var served []types.Entry
	if err := client.get(ctx, "/leaderboard", &served); err != nil {
		return 0, fmt.Errorf("get leaderboard: %w", err)
	}

	want := leaderboard.New().Materialize(records).Entries()
	if len(want) != len(served) {
		return 0, fmt.Errorf("%w: %d rows served, %d expected", ErrMismatch, len(served), len(want))
	}
	for i := range want {
		if want[i] != served[i] {
			return 0, fmt.Errorf("%w: row %d is %+v, expected %+v", ErrMismatch, i, served[i], want[i])
		}
	}
	return len(served), nil
}

func countEmpty(ids []string) int {
	n := 0
	for _, id := range ids {
		if id == "" {
			n++
		}
	}
	return n
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	fields := []logger.Field{
		logger.Int("submitted", stats.Submitted),
		logger.Int("approved", stats.Approved),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("boardRows", stats.BoardRows),
		logger.Duration("duration", stats.Duration),
		logger.Float64("requestsPerSecond", stats.RequestsPerSec),
	}
	if stats.StreamEvents != nil {
		fields = append(fields, logger.Any("streamEvents", stats.StreamEvents))
	}
	log.Info(ctx, "load run verified", fields...)
}

// watcher counts stream events by name.
type watcher struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	counts map[string]int
	done   chan struct{}
}

func watch(ctx context.Context, baseURL string) (*watcher, error) {
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/stream?channels=results,scoreboard"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	w := &watcher{conn: conn, counts: make(map[string]int), done: make(chan struct{})}
	go w.read()
	return w, nil
}

func (w *watcher) read() {
	defer close(w.done)
	for {
		var ev model.ChannelEvent
		if err := w.conn.ReadJSON(&ev); err != nil {
			return
		}
		w.mu.Lock()
		w.counts[ev.Name]++
		w.mu.Unlock()
	}
}

// wait returns a snapshot once name was seen want times or settle elapsed.
func (w *watcher) wait(ctx context.Context, name string, want int, settle time.Duration) map[string]int {
	deadline := time.NewTimer(settle)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		w.mu.Lock()
		reached := w.counts[name] >= want
		w.mu.Unlock()
		if reached {
			break
		}
		select {
		case <-ctx.Done():
		case <-deadline.C:
		case <-w.done:
		case <-tick.C:
			continue
		}
		break
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.counts))
	for k, v := range w.counts {
		out[k] = v
	}
	return out
}

func (w *watcher) close() {
	_ = w.conn.Close()
	<-w.done
}
