// Package store implements the versioned notes document: question
// definitions, their answers, migration, and derived conversation queries.
// The store is the single writer for the persisted document; every public
// mutator runs load→mutate→persist as one atomic unit under an internal
// lock, and republishes the full document to subscribers afterwards.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c11s/house-core/internal/errs"
	"github.com/c11s/house-core/internal/obs"
)

// StorageKey is the well-known document key for the notes store.
const StorageKey = "notes_store"

// Service is the note store. Safe for concurrent use by multiple
// collaborators; see the package comment for the write discipline.
type Service struct {
	docs *DocDB
	log  *slog.Logger
	now  func() time.Time

	mu sync.Mutex // serializes load→mutate→persist cycles

	subMu   sync.Mutex
	subs    map[int]chan StoreData
	nextSub int
}

// New creates a note store service over the given document database.
func New(docs *DocDB) *Service {
	return &Service{
		docs: docs,
		log:  obs.Pkg("store"),
		now:  func() time.Time { return time.Now().UTC() },
		subs: make(map[int]chan StoreData),
	}
}

// Load reads the persisted document, synthesizing a seed store on first
// launch and migrating stale versions in place. The loaded snapshot is
// published to subscribers.
func (s *Service) Load(ctx context.Context) (StoreData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return StoreData{}, err
	}
	s.publish(data)
	return data.Clone(), nil
}

// SaveNote upserts the note for its question. Fails if the question does
// not exist in the same store.
func (s *Service) SaveNote(ctx context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if data.QuestionByID(note.QuestionID) == nil {
		return errs.New(errs.NotFound, "question not found: "+note.QuestionID)
	}

	now := s.now()
	if existing, ok := data.Notes[note.QuestionID]; ok {
		note.CreatedAt = existing.CreatedAt
	} else if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.LastModified = now
	data.Notes[note.QuestionID] = note

	return s.persistAndPublishLocked(ctx, data)
}

// UpdateNote overwrites an existing note. LastModified is bumped to now
// regardless of the caller-supplied timestamp.
func (s *Service) UpdateNote(ctx context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	existing, ok := data.Notes[note.QuestionID]
	if !ok {
		return errs.New(errs.NotFound, "note not found: "+note.QuestionID)
	}

	note.CreatedAt = existing.CreatedAt
	note.LastModified = s.now()
	data.Notes[note.QuestionID] = note

	return s.persistAndPublishLocked(ctx, data)
}

// DeleteNote removes the note for a question. Deleting an absent note is a
// no-op, not an error.
func (s *Service) DeleteNote(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := data.Notes[questionID]; !ok {
		return nil
	}
	delete(data.Notes, questionID)

	return s.persistAndPublishLocked(ctx, data)
}

// AddQuestion appends a question definition. Question ids are immutable and
// unique; inserting a duplicate id fails.
func (s *Service) AddQuestion(ctx context.Context, question Question) error {
	if question.ID == "" {
		return errs.New(errs.InvalidArgument, "question id is required")
	}
	if question.Text == "" {
		return errs.New(errs.InvalidArgument, "question text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if data.QuestionByID(question.ID) != nil {
		return errs.New(errs.AlreadyExists, "duplicate question: "+question.ID)
	}

	if question.CreatedAt.IsZero() {
		question.CreatedAt = s.now()
	}
	if question.Kind == "" {
		question.Kind = KindCustom
	}
	data.Questions = append(data.Questions, question)

	return s.persistAndPublishLocked(ctx, data)
}

// DeleteQuestion removes a question and its associated note in one step.
func (s *Service) DeleteQuestion(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if data.QuestionByID(questionID) == nil {
		return errs.New(errs.NotFound, "question not found: "+questionID)
	}

	kept := data.Questions[:0]
	for _, q := range data.Questions {
		if q.ID != questionID {
			kept = append(kept, q)
		}
	}
	data.Questions = kept
	delete(data.Notes, questionID)

	return s.persistAndPublishLocked(ctx, data)
}

// ResetToDefaults replaces the question set with the predefined seed set.
// Notes whose question id survives the reset are preserved; the rest are
// dropped.
func (s *Service) ResetToDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	data.Questions = DefaultQuestions(s.now())
	for id := range data.Notes {
		if data.QuestionByID(id) == nil {
			delete(data.Notes, id)
		}
	}
	data.Version = CurrentVersion

	return s.persistAndPublishLocked(ctx, data)
}

// ClearAllData wipes all notes, restores the predefined questions, and
// resets the version.
func (s *Service) ClearAllData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := StoreData{
		Version:   CurrentVersion,
		Questions: DefaultQuestions(s.now()),
		Notes:     make(map[string]Note),
	}
	return s.persistAndPublishLocked(ctx, data)
}

// SaveOrUpdateNote upserts the answer for a question, merging metadata keys
// into any existing metadata rather than replacing the map.
func (s *Service) SaveOrUpdateNote(ctx context.Context, questionID, answer string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if data.QuestionByID(questionID) == nil {
		return errs.New(errs.NotFound, "question not found: "+questionID)
	}

	now := s.now()
	note, ok := data.Notes[questionID]
	if !ok {
		note = Note{QuestionID: questionID, CreatedAt: now}
	}
	note.Answer = answer
	note.LastModified = now
	if len(metadata) > 0 {
		if note.Metadata == nil {
			note.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			note.Metadata[k] = v
		}
	}
	data.Notes[questionID] = note

	return s.persistAndPublishLocked(ctx, data)
}

// GetNote returns the note for a question id, or nil when absent. A missing
// note is not an error.
func (s *Service) GetNote(ctx context.Context, questionID string) (*Note, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return data.NoteFor(questionID), nil
}

// GetUnansweredQuestions returns questions without a non-empty answer, in
// display order.
func (s *Service) GetUnansweredQuestions(ctx context.Context) ([]Question, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []Question
	for _, q := range data.SortedQuestions() {
		if n := data.NoteFor(q.ID); n == nil || !n.IsAnswered() {
			out = append(out, q)
		}
	}
	return out, nil
}

// QuestionsNeedingReview returns the conversation review queue: questions
// whose note (if any) still needs conversation review, required questions
// first, then display order ascending within each partition.
func (s *Service) QuestionsNeedingReview(ctx context.Context) ([]Question, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return reviewQueue(data), nil
}

// reviewQueue computes the ordered review queue from a snapshot.
func reviewQueue(data StoreData) []Question {
	var queue []Question
	for _, q := range data.Questions {
		n := data.NoteFor(q.ID)
		if n == nil || n.NeedsConversationReview() {
			queue = append(queue, q)
		}
	}
	// Required-before-optional is a stable partition, not a magnitude sort.
	stableSortQuestions(queue, func(a, b Question) bool {
		if a.IsRequired != b.IsRequired {
			return a.IsRequired
		}
		return a.DisplayOrder < b.DisplayOrder
	})
	return queue
}

// AreAllRequiredQuestionsAnswered reports whether every required question
// has a non-empty answer.
func (s *Service) AreAllRequiredQuestionsAnswered(ctx context.Context) (bool, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, q := range data.Questions {
		if !q.IsRequired {
			continue
		}
		if n := data.NoteFor(q.ID); n == nil || !n.IsAnswered() {
			return false, nil
		}
	}
	return true, nil
}

// GetQuestionProgress returns answered/total counts and the completion
// percentage.
func (s *Service) GetQuestionProgress(ctx context.Context) (Progress, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return Progress{}, err
	}
	answered := 0
	for _, q := range data.Questions {
		if n := data.NoteFor(q.ID); n != nil && n.IsAnswered() {
			answered++
		}
	}
	return Progress{
		Answered:   answered,
		Total:      len(data.Questions),
		Percentage: data.CompletionPercentage(),
	}, nil
}

// Subscribe registers an observer. Every successful load or mutation
// publishes an immutable snapshot of the full document. Slow subscribers
// lose the oldest pending snapshot rather than blocking the writer. The
// returned cancel function unregisters and closes the channel.
func (s *Service) Subscribe() (<-chan StoreData, func()) {
	ch := make(chan StoreData, 8)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish(data StoreData) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		snapshot := data.Clone()
		for {
			select {
			case ch <- snapshot:
			default:
				// Drop the oldest pending snapshot and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// loadLocked reads and decodes the persisted document. Callers hold s.mu.
// A missing row synthesizes the seed store; a row that fails to decode is
// surfaced as corruption, never silently replaced.
func (s *Service) loadLocked(ctx context.Context) (StoreData, error) {
	body, found, err := s.docs.get(ctx, StorageKey)
	if err != nil {
		return StoreData{}, errs.Wrap(errs.Unavailable, "failed to load notes store", err)
	}

	if !found {
		data := StoreData{
			Version:   CurrentVersion,
			Questions: DefaultQuestions(s.now()),
			Notes:     make(map[string]Note),
		}
		if err := s.persistLocked(ctx, data); err != nil {
			return StoreData{}, err
		}
		s.log.Info("initialized notes store from seed", "questions", len(data.Questions))
		return data, nil
	}

	var data StoreData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return StoreData{}, errs.Wrap(errs.Corrupted, "notes store document is corrupted", err)
	}
	if data.Notes == nil {
		data.Notes = make(map[string]Note)
	}

	if migrate(&data, DefaultQuestions(s.now())) {
		if err := s.persistLocked(ctx, data); err != nil {
			return StoreData{}, err
		}
		s.log.Info("migrated notes store", "version", data.Version)
	}
	return data, nil
}

func (s *Service) persistLocked(ctx context.Context, data StoreData) error {
	body, err := json.Marshal(data)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to encode notes store", err)
	}
	if err := s.docs.put(ctx, StorageKey, string(body)); err != nil {
		return errs.Wrap(errs.Unavailable, "failed to persist notes store", err)
	}
	return nil
}

func (s *Service) persistAndPublishLocked(ctx context.Context, data StoreData) error {
	if err := s.persistLocked(ctx, data); err != nil {
		return err
	}
	s.publish(data)
	return nil
}
