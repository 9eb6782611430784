// Package flow implements the question-flow coordinator: a finite-state
// conversation controller that walks the user through the review queue one
// question at a time, persisting answers through the note store.
//
// The coordinator is a single-writer state machine: all transitions run
// under one mutex and never overlap. Collaborators (speech output, address
// detection) are awaited with bounded contexts and their failures degrade to
// presenting a plain prompt rather than aborting the flow.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c11s/house-core/internal/address"
	"github.com/c11s/house-core/internal/errs"
	"github.com/c11s/house-core/internal/obs"
	"github.com/c11s/house-core/internal/store"
)

// State is the coordinator's conversation state.
type State string

const (
	StateIdle             State = "idle"
	StateLoadingQuestion  State = "loadingQuestion"
	StateWaitingForAnswer State = "waitingForAnswer"
	StateProcessingAnswer State = "processingAnswer"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// SpeechOutput presents prompts and acknowledgments to the user. In the app
// this is the text-to-speech surface; in tests it is a script recorder.
type SpeechOutput interface {
	PresentQuestion(ctx context.Context, text, prefill string) error
	PresentAcknowledgment(ctx context.Context, text string) error
}

// AddressProvider detects and confirms the house address.
type AddressProvider interface {
	DetectCurrentAddress(ctx context.Context) (*address.Address, error)
	ConfirmAddress(ctx context.Context, addr address.Address) error
}

// bareAcknowledgments are filler utterances swallowed while waiting on an
// address question, so "ok" never gets persisted as the address.
var bareAcknowledgments = map[string]bool{
	"continue": true,
	"ok":       true,
	"okay":     true,
	"yes":      true,
	"got it":   true,
	"thanks":   true,
	"sure":     true,
}

// detectTimeout bounds the address auto-detection call during pre-display
// preparation.
const detectTimeout = 5 * time.Second

// Coordinator drives one conversation session. Construct one per session
// with NewCoordinator; it is safe for concurrent use but processes one
// transition at a time.
type Coordinator struct {
	notes     *store.Service
	speech    SpeechOutput
	addresses AddressProvider
	log       *slog.Logger

	mu         sync.Mutex
	state      State
	errMessage string
	queue      []store.Question
	current    *store.Question
	prefill    string
	processed  map[string]bool
	userName   string
	celebrated bool
}

// NewCoordinator wires a coordinator to its collaborators. addresses may be
// nil, in which case address questions present plain prompts.
func NewCoordinator(notes *store.Service, speech SpeechOutput, addresses AddressProvider) *Coordinator {
	return &Coordinator{
		notes:     notes,
		speech:    speech,
		addresses: addresses,
		log:       obs.Pkg("flow"),
		state:     StateIdle,
		processed: make(map[string]bool),
	}
}

// CurrentState returns the FSM state.
func (c *Coordinator) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentQuestion returns the question being waited on, or nil.
func (c *Coordinator) CurrentQuestion() *store.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	q := *c.current
	return &q
}

// CurrentPrefill returns the suggestion pre-filled for the current question.
func (c *Coordinator) CurrentPrefill() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefill
}

// ErrorMessage returns the message of the error state, or "".
func (c *Coordinator) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMessage
}

// CurrentUserName returns the name cached from the user-name answer.
func (c *Coordinator) CurrentUserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

// HasCompletedAllQuestions reports whether the session reached the
// completed state.
func (c *Coordinator) HasCompletedAllQuestions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateCompleted
}

// StartConversation builds the review queue and presents the first pending
// question. Only valid from idle; other states ignore the call.
func (c *Coordinator) StartConversation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.log.Debug("startConversation ignored", "state", string(c.state))
		return nil
	}
	c.state = StateLoadingQuestion

	queue, err := c.notes.QuestionsNeedingReview(ctx)
	if err != nil {
		return c.failLocked(err)
	}
	c.queue = c.queue[:0]
	for _, q := range queue {
		if !c.processed[q.ID] {
			c.queue = append(c.queue, q)
		}
	}
	return c.advanceLocked(ctx)
}

// ProcessUserInput feeds a final speech transcript into the state machine.
// Outside waitingForAnswer the input is ignored by design: it can only be
// produced by a race between the UI and the state, never by user action.
// Empty input, and bare acknowledgments during an address question, leave
// the machine waiting on the same question.
func (c *Coordinator) ProcessUserInput(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForAnswer || c.current == nil {
		c.log.Debug("input ignored", "state", string(c.state))
		return nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if c.current.Kind == store.KindAddress && bareAcknowledgments[strings.ToLower(trimmed)] {
		c.log.Debug("bare acknowledgment swallowed during address question")
		return nil
	}

	question := *c.current
	c.state = StateProcessingAnswer

	if err := c.notes.SaveOrUpdateNote(ctx, question.ID, trimmed, map[string]string{
		store.MetaUpdatedViaConversation: "true",
	}); err != nil {
		return c.failLocked(err)
	}

	c.handleSpecialCaseLocked(ctx, question, trimmed)

	c.processed[question.ID] = true
	c.current = nil
	c.prefill = ""

	if err := c.speech.PresentAcknowledgment(ctx, "Got it, thank you."); err != nil {
		c.log.Warn("acknowledgment failed", "error", err)
	}

	c.state = StateLoadingQuestion
	return c.advanceLocked(ctx)
}

// Reset returns the coordinator to idle from any state, clearing the queue
// and the processed set. Required to leave the error state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.errMessage = ""
	c.queue = nil
	c.current = nil
	c.prefill = ""
	c.processed = make(map[string]bool)
	c.celebrated = false
}

// advanceLocked dequeues the next question or completes the session.
// Callers hold c.mu and have set state to loadingQuestion.
func (c *Coordinator) advanceLocked(ctx context.Context) error {
	if len(c.queue) == 0 {
		c.state = StateCompleted
		c.current = nil
		c.prefill = ""
		if err := c.speech.PresentAcknowledgment(ctx, "That's everything I wanted to ask. This house is all set up."); err != nil {
			c.log.Warn("completion acknowledgment failed", "error", err)
		}
		c.celebrateImportLocked(ctx)
		return nil
	}

	next := c.queue[0]
	c.queue = c.queue[1:]
	c.current = &next
	c.prefill = c.prepareLocked(ctx, next)

	if err := c.speech.PresentQuestion(ctx, next.Text, c.prefill); err != nil {
		c.log.Warn("question presentation failed", "question_id", next.ID, "error", err)
	}
	c.state = StateWaitingForAnswer
	return nil
}

// prepareLocked computes the pre-filled suggestion for a question before it
// is presented. Collaborator failures degrade to a plain prompt.
func (c *Coordinator) prepareLocked(ctx context.Context, q store.Question) string {
	note, err := c.notes.GetNote(ctx, q.ID)
	if err != nil {
		c.log.Warn("prefill lookup failed", "question_id", q.ID, "error", err)
		return ""
	}
	if note != nil && note.IsAnswered() {
		return note.Answer
	}

	switch q.Kind {
	case store.KindAddress:
		if c.addresses == nil {
			return ""
		}
		detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
		defer cancel()
		detected, err := c.addresses.DetectCurrentAddress(detectCtx)
		if err != nil || detected == nil {
			c.log.Info("address detection unavailable", "error", err)
			return ""
		}
		return detected.FullText()

	case store.KindHouseName:
		confirmed, err := c.notes.GetNote(ctx, store.QuestionIDAddress)
		if err != nil || confirmed == nil || !confirmed.IsAnswered() {
			return ""
		}
		suggestions := address.GenerateHouseNameSuggestions(confirmed.Answer)
		return suggestions[0]
	}
	return ""
}

// handleSpecialCaseLocked runs the per-kind side effect after a successful
// save. Collaborator errors are degraded, never propagated.
func (c *Coordinator) handleSpecialCaseLocked(ctx context.Context, q store.Question, answer string) {
	switch q.Kind {
	case store.KindUserName:
		c.userName = answer
		c.log.Info("resident name learned")

	case store.KindAddress:
		parsed := address.Parse(answer, nil)
		if parsed == nil {
			c.log.Info("address answer not parseable, stored as text", "question_id", q.ID)
			return
		}
		if c.addresses == nil {
			return
		}
		if err := c.addresses.ConfirmAddress(ctx, *parsed); err != nil {
			c.log.Warn("address confirmation failed", "error", err)
		}

	case store.KindHouseName:
		// The literal answer is already persisted as the house name.
		c.log.Info("house name chosen")
	}
}

// celebrateImportLocked emits a one-time acknowledgment when previously
// imported smart-home notes are present, reading the structured counts from
// the summary note's metadata.
func (c *Coordinator) celebrateImportLocked(ctx context.Context) {
	if c.celebrated {
		return
	}
	data, err := c.notes.Load(ctx)
	if err != nil {
		c.log.Warn("import scan failed", "error", err)
		return
	}
	for _, note := range data.Notes {
		if note.MetaValue(store.MetaHomeKitImport) != "true" {
			continue
		}
		homes := note.MetaValue(store.MetaHomeKitHomeCount)
		rooms := note.MetaValue(store.MetaHomeKitRoomCount)
		accessories := note.MetaValue(store.MetaHomeKitAccessoryCount)
		if homes == "" && rooms == "" && accessories == "" {
			continue
		}
		c.celebrated = true
		msg := "I also found your smart home setup: " + countPhrase(homes, "home") +
			", " + countPhrase(rooms, "room") + " and " + countPhrase(accessories, "device") + ". Nice place."
		if err := c.speech.PresentAcknowledgment(ctx, msg); err != nil {
			c.log.Warn("import acknowledgment failed", "error", err)
		}
		return
	}
}

func countPhrase(count, noun string) string {
	if count == "" {
		count = "0"
	}
	if count == "1" {
		return count + " " + noun
	}
	return count + " " + noun + "s"
}

// failLocked moves the machine to the error state. Recovery requires Reset.
func (c *Coordinator) failLocked(err error) error {
	c.state = StateError
	c.errMessage = errs.MessageOf(err)
	c.log.Error("conversation flow failed", "error", err)
	return err
}
