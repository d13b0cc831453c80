// Package scheduler turns stored recurring command definitions into queued
// submissions on their intervals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/harmonia-ai/harmonia/internal/dispatch"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// Submitter is the submission surface the runner needs. The dispatch
// service satisfies it.
type Submitter interface {
	Submit(sub dispatch.Submission) (*models.Task, error)
}

// definitionFile is the on-disk YAML shape. Intervals are duration strings
// ("30s", "5m") rather than raw nanoseconds.
type definitionFile struct {
	Commands []definition `yaml:"commands"`
}

type definition struct {
	ID       string            `yaml:"id"`
	OwnerID  string            `yaml:"owner_id"`
	AgentID  string            `yaml:"agent_id"`
	Command  string            `yaml:"command"`
	Interval string            `yaml:"interval"`
	Priority string            `yaml:"priority"`
	Enabled  *bool             `yaml:"enabled"`
	Metadata map[string]string `yaml:"metadata"`
}

func (d definition) toModel() (models.ScheduledCommand, error) {
	interval, err := time.ParseDuration(d.Interval)
	if err != nil {
		return models.ScheduledCommand{}, fmt.Errorf("scheduled command %s: bad interval %q: %w", d.ID, d.Interval, err)
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	cmd := models.ScheduledCommand{
		ID:       d.ID,
		OwnerID:  d.OwnerID,
		AgentID:  d.AgentID,
		Command:  d.Command,
		Interval: interval,
		Priority: d.Priority,
		Enabled:  enabled,
		Metadata: d.Metadata,
	}
	if err := cmd.Validate(); err != nil {
		return models.ScheduledCommand{}, err
	}
	return cmd, nil
}

// LoadDefinitions parses and validates the definitions file.
func LoadDefinitions(path string) ([]models.ScheduledCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Commands))
	commands := make([]models.ScheduledCommand, 0, len(file.Commands))
	for _, def := range file.Commands {
		cmd, err := def.toModel()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[cmd.ID]; dup {
			return nil, fmt.Errorf("duplicate scheduled command id %q", cmd.ID)
		}
		seen[cmd.ID] = struct{}{}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// job is one running ticker loop.
type job struct {
	def    models.ScheduledCommand
	cancel context.CancelFunc
}

// Runner owns the ticker goroutines for every enabled definition and
// hot-reloads the definitions file when it changes on disk.
type Runner struct {
	path      string
	submitter Submitter
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner over the definitions file at path.
func NewRunner(path string, submitter Submitter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		path:      path,
		submitter: submitter,
		logger:    logger,
		jobs:      make(map[string]*job),
	}
}

// Start loads the definitions, begins their tickers, and watches the file
// for changes. A missing or invalid file at startup is an error; an invalid
// file after a reload keeps the previous definitions running.
func (r *Runner) Start(ctx context.Context) error {
	commands, err := LoadDefinitions(r.path)
	if err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.apply(ctx, commands)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schedule watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the file,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("schedule watcher: %w", err)
	}
	r.watcher = watcher

	r.wg.Add(1)
	go r.watch(ctx)
	return nil
}

func (r *Runner) watch(ctx context.Context) {
	defer r.wg.Done()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				r.reload(ctx)
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("schedule watcher error", "error", err)
		}
	}
}

func (r *Runner) reload(ctx context.Context) {
	commands, err := LoadDefinitions(r.path)
	if err != nil {
		r.logger.Error("schedule reload failed, keeping previous definitions", "error", err)
		return
	}
	r.apply(ctx, commands)
	r.logger.Info("schedule reloaded", "definitions", len(commands))
}

// apply reconciles running jobs against the loaded definitions: changed and
// removed jobs stop, new and changed ones start.
func (r *Runner) apply(ctx context.Context, commands []models.ScheduledCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desired := make(map[string]models.ScheduledCommand, len(commands))
	for _, cmd := range commands {
		if cmd.Enabled {
			desired[cmd.ID] = cmd
		}
	}

	for id, j := range r.jobs {
		def, keep := desired[id]
		if keep && sameDefinition(j.def, def) {
			delete(desired, id)
			continue
		}
		j.cancel()
		delete(r.jobs, id)
	}

	for id, def := range desired {
		jobCtx, cancel := context.WithCancel(ctx)
		j := &job{def: def, cancel: cancel}
		r.jobs[id] = j
		r.wg.Add(1)
		go r.run(jobCtx, def)
		r.logger.Info("scheduled command started",
			"id", id, "agent_id", def.AgentID, "interval", def.Interval)
	}
}

func sameDefinition(a, b models.ScheduledCommand) bool {
	if a.ID != b.ID || a.OwnerID != b.OwnerID || a.AgentID != b.AgentID ||
		a.Command != b.Command || a.Interval != b.Interval ||
		a.Priority != b.Priority || a.Enabled != b.Enabled {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}

func (r *Runner) run(ctx context.Context, def models.ScheduledCommand) {
	defer r.wg.Done()

	ticker := time.NewTicker(def.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(def)
		}
	}
}

func (r *Runner) fire(def models.ScheduledCommand) {
	priority, _ := models.ParsePriority(def.Priority)

	metadata := map[string]string{"scheduled_command_id": def.ID}
	for k, v := range def.Metadata {
		metadata[k] = v
	}

	task, err := r.submitter.Submit(dispatch.Submission{
		OwnerID:  def.OwnerID,
		AgentID:  def.AgentID,
		Command:  def.Command,
		Priority: priority,
		Metadata: metadata,
	})
	if err != nil {
		r.logger.Error("scheduled submission failed", "id", def.ID, "error", err)
		return
	}
	r.logger.Debug("scheduled command fired", "id", def.ID, "task_id", task.ID)
}

// JobCount returns the number of running definitions.
func (r *Runner) JobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Stop cancels every job and the watcher and waits for them to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}

	r.mu.Lock()
	for id, j := range r.jobs {
		j.cancel()
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
