// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// DefaultMaxSessions is how many sessions a store keeps before pruning the
// least recently updated.
const DefaultMaxSessions = 100

var (
	// ErrSessionNotFound is returned when no session matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAmbiguous is returned when a reference matches several sessions.
	ErrAmbiguous = errors.New("session reference is ambiguous")
	// ErrInvalidID is returned for IDs that cannot name a file.
	ErrInvalidID = errors.New("invalid session id")
)

// =============================================================================
// SESSION TYPES
// =============================================================================

// Session is a saved engine snapshot.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Snapshot engine.Snapshot `json:"snapshot"`
}

// Meta describes a session for listings.
type Meta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Summary      string    `json:"summary"`
	CurrentModel string    `json:"current_model"`
	Models       int       `json:"models"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// MessageCount returns the number of messages across all models.
func (s *Session) MessageCount() int {
	n := 0
	for _, msgs := range s.Snapshot.History {
		n += len(msgs)
	}
	return n
}

// Preview returns the first user message of the current model's history,
// or of any model when that is empty.
func (s *Session) Preview() string {
	if p := firstUser(s.Snapshot.History[s.Snapshot.CurrentModel]); p != "" {
		return util.TruncateRunes(oneLine(p), 80)
	}
	for _, id := range s.modelIDs() {
		if p := firstUser(s.Snapshot.History[id]); p != "" {
			return util.TruncateRunes(oneLine(p), 80)
		}
	}
	return ""
}

// Markdown renders the session as a Markdown document, one section per
// model.
func (s *Session) Markdown() string {
	var sb strings.Builder
	title := s.Name
	if title == "" {
		title = s.ID
	}
	sb.WriteString("# Session " + title + "\n\n")
	sb.WriteString("Updated: " + s.UpdatedAt.Format(time.RFC3339) + "\n\n")
	if s.Snapshot.SystemPrompt != "" {
		sb.WriteString("> " + oneLine(s.Snapshot.SystemPrompt) + "\n\n")
	}

	for _, id := range s.modelIDs() {
		sb.WriteString("## " + id + "\n\n")
		for _, msg := range s.Snapshot.History[id] {
			sb.WriteString("**" + msg.Role.DisplayName() + "**:\n\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func (s *Session) meta() Meta {
	return Meta{
		ID:           s.ID,
		Name:         s.Name,
		Summary:      s.Summary,
		CurrentModel: s.Snapshot.CurrentModel,
		Models:       len(s.Snapshot.History),
		MessageCount: s.MessageCount(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Preview:      s.Preview(),
	}
}

// modelIDs returns the history keys, current model first.
func (s *Session) modelIDs() []string {
	ids := make([]string, 0, len(s.Snapshot.History))
	for id := range s.Snapshot.History {
		if id != s.Snapshot.CurrentModel {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if _, ok := s.Snapshot.History[s.Snapshot.CurrentModel]; ok {
		ids = append([]string{s.Snapshot.CurrentModel}, ids...)
	}
	return ids
}

// =============================================================================
// STORE
// =============================================================================

// Store keeps sessions as JSON files in one directory.
type Store struct {
	// Dir holds the session files.
	Dir string

	// MaxSessions limits stored sessions (0 = unlimited).
	MaxSessions int

	now func() time.Time
}

// DefaultDir returns ~/.rigchat/sessions, or a relative path when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".rigchat", "sessions")
	}
	return filepath.Join(home, ".rigchat", "sessions")
}

// NewStore creates a store in dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{Dir: dir, MaxSessions: DefaultMaxSessions, now: time.Now}, nil
}

// Save writes sess, assigning an ID, summary and timestamps as needed.
// It returns sess.
func (s *Store) Save(sess *Session) (*Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if err := validateID(sess.ID); err != nil {
		return nil, err
	}
	if sess.Snapshot.History == nil {
		sess.Snapshot.History = map[string][]model.Message{}
	}
	sess.Summary = summarize(sess)

	sess.UpdatedAt = s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, err
	}
	// Histories may hold anything the user typed.
	if err := util.AtomicWriteFile(s.filePath(sess.ID), data, 0600); err != nil {
		return nil, err
	}

	if s.MaxSessions > 0 {
		s.enforceLimit()
	}
	return sess, nil
}

// summarize keeps an explicit name, otherwise uses the preview.
func summarize(sess *Session) string {
	if sess.Name != "" {
		return sess.Name
	}
	if p := sess.Preview(); p != "" {
		return util.TruncateRunes(p, 50)
	}
	return "Empty session"
}

// enforceLimit removes the least recently updated sessions over the limit.
func (s *Store) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxSessions {
		return
	}
	// List is most recent first.
	for _, m := range metas[s.MaxSessions:] {
		_ = s.Delete(m.ID)
	}
}

// Load reads the session with id.
func (s *Store) Load(id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// LoadByIndex loads a session by its position in List (0 = most recent).
func (s *Store) LoadByIndex(index int) (*Session, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(metas) {
		return nil, fmt.Errorf("%w: index %d", ErrSessionNotFound, index)
	}
	return s.Load(metas[index].ID)
}

// Find resolves ref as an exact ID, then a name, then a unique ID prefix.
func (s *Store) Find(ref string) (*Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrSessionNotFound
	}
	if validateID(ref) == nil {
		if sess, err := s.Load(ref); err == nil {
			return sess, nil
		}
	}

	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if m.Name == ref {
			return s.Load(m.ID)
		}
	}

	var match string
	for _, m := range metas {
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, ref)
	}
	return s.Load(match)
}

// List returns every readable session, most recently updated first.
// Corrupt files are skipped.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, err
	}

	metas := []Meta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		metas = append(metas, sess.meta())
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search returns sessions whose name, summary or message content contains
// query, ignoring case and Unicode normalization form.
func (s *Store) Search(query string) ([]Meta, error) {
	metas, err := s.List()
	if err != nil || query == "" {
		return metas, err
	}

	query = fold(query)
	var results []Meta
	for _, m := range metas {
		if strings.Contains(fold(m.Name), query) ||
			strings.Contains(fold(m.Summary), query) {
			results = append(results, m)
			continue
		}
		sess, err := s.Load(m.ID)
		if err != nil {
			continue
		}
		if containsMessage(sess, query) {
			results = append(results, m)
		}
	}
	return results, nil
}

// Delete removes the session with id.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) filePath(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func firstUser(msgs []model.Message) string {
	for _, m := range msgs {
		if m.Role == model.RoleUser && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

func containsMessage(sess *Session, query string) bool {
	for _, msgs := range sess.Snapshot.History {
		for _, m := range msgs {
			if strings.Contains(fold(m.Content), query) {
				return true
			}
		}
	}
	return false
}

// fold lowercases s in NFC so precomposed and combining accents compare
// equal.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
