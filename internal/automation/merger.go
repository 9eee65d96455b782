package automation

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/joelklabo/hassbuddy/internal/metrics"
)

// Merger appends automations to a File. All read-modify-write cycles run on a
// single worker goroutine, so concurrent merges never lose each other's
// records.
type Merger struct {
	file   *File
	now    func() time.Time
	logger *slog.Logger

	jobs      chan mergeJob
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type mergeJob struct {
	rec    Record
	result chan mergeResult
}

type mergeResult struct {
	rec Record
	err error
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithClock overrides the time source used to derive ids.
func WithClock(now func() time.Time) MergerOption {
	return func(m *Merger) { m.now = now }
}

// NewMerger starts the writer goroutine for file. Call Close to stop it.
func NewMerger(file *File, logger *slog.Logger, opts ...MergerOption) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		file:   file,
		now:    time.Now,
		logger: logger.With(slog.String("component", "merger"), slog.String("path", file.Path())),
		jobs:   make(chan mergeJob),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

// Merge parses reply as an automation, gives it a fresh id and appends it to
// the file. ctx bounds only the hand-off to the worker; once the worker has
// the job, Merge waits for the write to finish.
func (m *Merger) Merge(ctx context.Context, reply string) (Record, error) {
	rec, err := ParseRecord(reply)
	if err != nil {
		return Record{}, err
	}

	job := mergeJob{rec: rec, result: make(chan mergeResult, 1)}
	select {
	case m.jobs <- job:
	case <-m.quit:
		return Record{}, ErrMergerClosed
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}

	res := <-job.result
	return res.rec, res.err
}

// Close stops the worker after any in-flight write.
func (m *Merger) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *Merger) loop() {
	defer close(m.done)
	for {
		select {
		case job := <-m.jobs:
			rec, err := m.apply(job.rec)
			job.result <- mergeResult{rec: rec, err: err}
		case <-m.quit:
			return
		}
	}
}

func (m *Merger) apply(rec Record) (Record, error) {
	start := time.Now()
	defer func() { metrics.ObserveMerge(time.Since(start)) }()

	current, err := m.file.Load()
	if err != nil {
		return Record{}, err
	}
	rec.SetID(m.nextID(current.IDs()))
	current = append(current, rec)
	if err := m.file.Save(current); err != nil {
		return Record{}, err
	}
	m.logger.Debug("automation appended", slog.String("id", rec.ID()), slog.Int("count", len(current)))
	return rec, nil
}

// nextID derives an id from the current unix time in milliseconds, stepping
// forward past ids already in the file.
func (m *Merger) nextID(taken map[string]struct{}) string {
	ms := m.now().UnixMilli()
	for {
		id := strconv.FormatInt(ms, 10)
		if _, ok := taken[id]; !ok {
			return id
		}
		ms++
	}
}
