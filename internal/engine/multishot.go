// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MultishotState is the phase of a multishot sequence.
type MultishotState int

const (
	MultishotNotRunning MultishotState = iota
	MultishotRunning
	MultishotDone
	MultishotHalted
)

// String returns the phase name.
func (s MultishotState) String() string {
	switch s {
	case MultishotNotRunning:
		return "not running"
	case MultishotRunning:
		return "running"
	case MultishotDone:
		return "done"
	case MultishotHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// MultishotStatus describes the current or last sequence.
type MultishotStatus struct {
	RunID  string
	State  MultishotState
	Models []string
	// Index is the step running, or the step that halted the sequence.
	Index int
	// Progress counts completed steps.
	Progress int
}

func (s MultishotStatus) clone() MultishotStatus {
	s.Models = append([]string(nil), s.Models...)
	return s
}

// Register is the captured output of one multishot step.
type Register struct {
	Key     string
	Model   string
	Prompt  string
	Content string
	Stats   Stats
}

// MultishotResult is what a sequence produced.
type MultishotResult struct {
	RunID string
	// Registers holds completed steps in sequence order.
	Registers []Register
}

// RegisterKey returns the register name for step i: "a" through "z", then
// "r27", "r28", ...
func RegisterKey(i int) string {
	if i >= 0 && i < 26 {
		return string(rune('a' + i))
	}
	return "r" + strconv.Itoa(i+1)
}

// =============================================================================
// SEQUENCER
// =============================================================================

// StartMultishot sends prompt to each model in order, one at a time. Each
// completed step is recorded in that model's history, even with history
// turned off, and captured in its own register. The first failed or
// cancelled step halts the sequence with a *MultishotError; later steps are
// not attempted. The model that was current before the sequence is
// restored in every case.
func (e *Engine) StartMultishot(ctx context.Context, prompt string, models []string) (*MultishotResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	seq := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			seq = append(seq, m)
		}
	}
	if len(seq) == 0 {
		return nil, ErrEmptySequence
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.multishot.State == MultishotRunning {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	previous := e.currentModel
	runID := uuid.NewString()
	mctx, stop := context.WithCancel(ctx)
	e.multishot = MultishotStatus{RunID: runID, State: MultishotRunning, Models: seq}
	e.registers = make(map[string]Register)
	e.stopMultishot = stop
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.currentModel = previous
		e.stopMultishot = nil
		e.mu.Unlock()
		stop()
	}()

	e.log.Info("multishot started", "run", runID, "models", seq)
	result := &MultishotResult{RunID: runID}

	for i, id := range seq {
		key := RegisterKey(i)
		e.mu.Lock()
		e.multishot.Index = i
		e.currentModel = id
		e.mu.Unlock()
		e.emit(Event{Kind: EventMultishotStep, Model: id, Step: i, Total: len(seq), Register: key})

		var res *Result
		err := mctx.Err()
		if err == nil {
			res, err = e.send(mctx, prompt, sendOptions{model: id, exact: true, forceHistory: true})
		}
		if err != nil && mctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if err != nil {
			e.mu.Lock()
			e.multishot.State = MultishotHalted
			e.mu.Unlock()

			herr := &MultishotError{Index: i, Model: id, Err: err}
			e.log.Warn("multishot halted", "run", runID, "step", i+1, "model", id, "error", err)
			e.emit(Event{Kind: EventMultishotDone, Step: i, Total: len(seq), Err: herr})
			return result, herr
		}

		reg := Register{Key: key, Model: res.Model, Prompt: prompt, Content: res.Content, Stats: res.Stats}
		e.mu.Lock()
		e.registers[key] = reg
		e.multishot.Progress = i + 1
		e.mu.Unlock()
		result.Registers = append(result.Registers, reg)
	}

	e.mu.Lock()
	e.multishot.State = MultishotDone
	e.mu.Unlock()
	e.log.Info("multishot done", "run", runID, "steps", len(seq))
	e.emit(Event{Kind: EventMultishotDone, Step: len(seq), Total: len(seq)})
	return result, nil
}

// Multishot returns the status of the current or last sequence.
func (e *Engine) Multishot() MultishotStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.multishot.clone()
}

// Register returns the captured output for key.
func (e *Engine) Register(key string) (Register, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.registers[key]
	return r, ok
}

// Registers returns the registers of the last sequence ordered by key.
func (e *Engine) Registers() []Register {
	e.mu.Lock()
	out := make([]Register, 0, len(e.registers))
	for _, r := range e.registers {
		out = append(out, r)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Key) != len(out[j].Key) {
			return len(out[i].Key) < len(out[j].Key)
		}
		return out[i].Key < out[j].Key
	})
	return out
}
