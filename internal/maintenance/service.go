// Package maintenance runs periodic housekeeping jobs (store backups, stats
// reports) on cron schedules.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Job is one named housekeeping task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// EntryInfo is the /status view of a registered job.
type EntryInfo struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	Next     time.Time     `json:"next,omitzero"`
	Prev     time.Time     `json:"prev,omitzero"`
	Runs     uint64        `json:"runs"`
	LastErr  string        `json:"last_err,omitempty"`
	LastTook time.Duration `json:"last_took"`
}

type entry struct {
	job      Job
	sched    Schedule
	id       cron.EntryID
	runs     uint64
	lastErr  string
	lastTook time.Duration
}

type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		log: log.With(logx.String("comp", "maintenance")),
		// SecondOptional allows both 5-field and 6-field specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loc,
		entries: map[string]*entry{},
	}
}

// cronLogger routes robfig/cron's own messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kvFields(kv)...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// Set registers job, replacing any job with the same name. An empty
// schedule removes it.
func (s *Service) Set(job Job) error {
	if strings.TrimSpace(job.Name) == "" || job.Run == nil {
		return errors.New("maintenance: job name and func required")
	}
	if strings.TrimSpace(job.Schedule) == "" {
		s.Remove(job.Name)
		return nil
	}
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	if _, err := s.parser.Parse(sched.Spec); err != nil {
		return fmt.Errorf("%s: invalid cron %q: %w", job.Name, sched.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.entries[job.Name]; old != nil {
		if old.job.Schedule == job.Schedule && s.c != nil {
			old.job = job
			return nil
		}
		s.removeLocked(job.Name)
	}
	e := &entry{job: job, sched: sched}
	s.entries[job.Name] = e
	if s.c != nil {
		return s.addLocked(e)
	}
	return nil
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Service) removeLocked(name string) {
	e := s.entries[name]
	if e == nil {
		return
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
}

func (s *Service) addLocked(e *entry) error {
	name := e.job.Name
	id, err := s.c.AddFunc(e.sched.Spec, func() {
		if err := s.RunNow(name); err != nil && !errors.Is(err, errUnknownJob) {
			s.log.Warn("job failed", logx.String("job", name), logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	e.id = id
	s.log.Debug("job registered",
		logx.String("job", name), logx.String("spec", e.sched.Spec), logx.Time("next", s.c.Entry(id).Next))
	return nil
}

// Start begins triggering registered jobs. Overlapping runs of one job are
// skipped and panics are recovered by the cron chain.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	var errs []error
	for _, e := range s.entries {
		if err := s.addLocked(e); err != nil {
			errs = append(errs, err)
		}
	}
	s.c.Start()
	s.log.Info("maintenance started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
	return errors.Join(errs...)
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
}

var errUnknownJob = errors.New("unknown job")

// RunNow runs the named job synchronously with its timeout.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e := s.entries[name]
	ctx := s.ctx
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w %q", errUnknownJob, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.job.Run(ctx)
	took := time.Since(start)
	mJobRuns.WithLabelValues(name, status(err)).Inc()

	s.mu.Lock()
	e.runs++
	e.lastTook = took
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err == nil {
		s.log.Debug("job done", logx.String("job", name), logx.Duration("took", took))
	}
	return err
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{
			Name:     e.job.Name,
			Schedule: e.sched.Spec,
			Runs:     e.runs,
			LastErr:  e.lastErr,
			LastTook: e.lastTook,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
