//----------------------------------------------------------------------
// This file is part of sentinel.
// Copyright (C) 2025-present Bernd Fix   >Y<
//
// sentinel is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// sentinel is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Task is ticked periodically by the scheduler. A tick runs to
// completion before any other task is ticked.
type Task interface {
	Tick(ctx context.Context, now time.Time) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, now time.Time) error

// Tick calls the function.
func (f TaskFunc) Tick(ctx context.Context, now time.Time) error {
	return f(ctx, now)
}

// scheduled task
type entry struct {
	name  string
	task  Task
	every time.Duration
	next  time.Time
	stat  int // status code to report on failure
}

// Scheduler runs a fixed set of tasks cooperatively on one goroutine.
type Scheduler struct {
	entries []*entry
	status  *Status
	now     func() time.Time
	logger  *slog.Logger
}

// NewScheduler creates an empty scheduler. Failures are reported on
// status (if not nil).
func NewScheduler(status *Status, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		status: status,
		now:    time.Now,
		logger: orDiscard(logger),
	}
}

// Add a task with given cadence. Tasks are first ticked in the order
// they were added.
func (s *Scheduler) Add(name string, every time.Duration, stat int, task Task) {
	s.entries = append(s.entries, &entry{
		name:  name,
		task:  task,
		every: every,
		stat:  stat,
	})
}

// Run the tasks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	start := s.now()
	for _, e := range s.entries {
		e.next = start
	}
	for {
		e := s.due()
		if wait := e.next.Sub(s.now()); wait > 0 {
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := s.now()
		s.tick(ctx, e, now)
		e.next = e.next.Add(e.every)
		if after := s.now(); e.next.Before(after) {
			// overrun: don't try to catch up
			e.next = after
		}
	}
}

// due returns the entry with the earliest deadline (first added wins).
func (s *Scheduler) due() *entry {
	best := s.entries[0]
	for _, e := range s.entries[1:] {
		if e.next.Before(best.next) {
			best = e
		}
	}
	return best
}

// tick a single task; errors and panics stay with the task.
func (s *Scheduler) tick(ctx context.Context, e *entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic", slog.String("task", e.name), slog.String("panic", fmt.Sprint(r)))
			s.status.Set(StatEXCP, 3)
		}
	}()
	if err := e.task.Tick(ctx, now); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("task failed",
			slog.String("task", e.name),
			slog.String("kind", string(CodeOf(err))),
			slog.String("err", err.Error()))
		s.status.Set(statusOf(err, e.stat), 3)
	}
}

// statusOf maps an error kind to a status code.
func statusOf(err error, fallback int) int {
	switch CodeOf(err) {
	case CodeSensor:
		return StatSENSOR
	case CodeConfiguration:
		return StatCONFIG
	}
	return fallback
}
