package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category organizes questions for display purposes only; it never affects
// flow behavior.
type Category string

const (
	CategoryPersonal    Category = "personal"
	CategoryHouseInfo   Category = "houseInfo"
	CategoryMaintenance Category = "maintenance"
	CategoryPreferences Category = "preferences"
	CategoryReminders   Category = "reminders"
	CategoryOther       Category = "other"
)

// QuestionKind is the closed behavior tag the flow coordinator dispatches on.
type QuestionKind string

const (
	KindGeneric   QuestionKind = "generic"
	KindAddress   QuestionKind = "address"
	KindHouseName QuestionKind = "houseName"
	KindUserName  QuestionKind = "userName"
	KindRoomNote  QuestionKind = "roomNote"
	KindCustom    QuestionKind = "custom"
)

// Metadata keys used for note provenance.
const (
	MetaUpdatedViaConversation = "updated_via_conversation"
	MetaSource                 = "source"
	MetaLatitude               = "latitude"
	MetaLongitude              = "longitude"
	MetaHomeKitImport          = "homekit_import"
	MetaHomeKitHomeCount       = "homekit_home_count"
	MetaHomeKitRoomCount       = "homekit_room_count"
	MetaHomeKitAccessoryCount  = "homekit_accessory_count"
)

// Question is the static definition of something the house wants to know.
// ID is immutable once created; uniqueness is enforced by the store.
type Question struct {
	ID           string       `json:"id"`
	Text         string       `json:"text"`
	Category     Category     `json:"category"`
	Kind         QuestionKind `json:"kind"`
	DisplayOrder int          `json:"displayOrder"`
	IsRequired   bool         `json:"isRequired"`
	Hint         string       `json:"hint,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NewQuestion creates a custom question with a fresh id.
func NewQuestion(text string, category Category, displayOrder int, required bool) Question {
	return Question{
		ID:           uuid.New().String(),
		Text:         text,
		Category:     category,
		Kind:         KindCustom,
		DisplayOrder: displayOrder,
		IsRequired:   required,
		CreatedAt:    time.Now().UTC(),
	}
}

// Note is the answer record for exactly one question.
type Note struct {
	QuestionID   string            `json:"questionId"`
	Answer       string            `json:"answer"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastModified time.Time         `json:"lastModified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsAnswered reports whether the answer is non-empty after trimming whitespace.
func (n Note) IsAnswered() bool {
	return strings.TrimSpace(n.Answer) != ""
}

// NeedsConversationReview reports whether the question should re-enter the
// conversation queue. A machine-suggested answer (no conversation flag) still
// needs review even though the note carries text.
func (n Note) NeedsConversationReview() bool {
	return n.Metadata[MetaUpdatedViaConversation] != "true" || !n.IsAnswered()
}

// MetaValue returns a metadata value, or "" when absent.
func (n Note) MetaValue(key string) string {
	return n.Metadata[key]
}

// StoreData is the aggregate root: the full versioned document the store
// persists and republishes on every mutation.
type StoreData struct {
	Version   int             `json:"version"`
	Questions []Question      `json:"questions"`
	Notes     map[string]Note `json:"notes"`
}

// QuestionByID returns the question with the given id, or nil.
func (d StoreData) QuestionByID(id string) *Question {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i]
		}
	}
	return nil
}

// NoteFor returns the note for a question id, or nil.
func (d StoreData) NoteFor(questionID string) *Note {
	n, ok := d.Notes[questionID]
	if !ok {
		return nil
	}
	return &n
}

// SortedQuestions returns questions ordered by display order ascending,
// insertion order breaking ties.
func (d StoreData) SortedQuestions() []Question {
	sorted := make([]Question, len(d.Questions))
	copy(sorted, d.Questions)
	stableSortQuestions(sorted, func(a, b Question) bool {
		return a.DisplayOrder < b.DisplayOrder
	})
	return sorted
}

// CompletionPercentage is answered/total*100, recomputed on every call.
func (d StoreData) CompletionPercentage() float64 {
	if len(d.Questions) == 0 {
		return 0
	}
	answered := 0
	for _, q := range d.Questions {
		if n, ok := d.Notes[q.ID]; ok && n.IsAnswered() {
			answered++
		}
	}
	return float64(answered) / float64(len(d.Questions)) * 100
}

// Clone returns a deep copy so published snapshots stay immutable.
func (d StoreData) Clone() StoreData {
	out := StoreData{
		Version:   d.Version,
		Questions: make([]Question, len(d.Questions)),
		Notes:     make(map[string]Note, len(d.Notes)),
	}
	copy(out.Questions, d.Questions)
	for id, n := range d.Notes {
		if n.Metadata != nil {
			meta := make(map[string]string, len(n.Metadata))
			for k, v := range n.Metadata {
				meta[k] = v
			}
			n.Metadata = meta
		}
		out.Notes[id] = n
	}
	return out
}

// Progress summarizes how far onboarding has come.
type Progress struct {
	Answered   int     `json:"answered"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

func stableSortQuestions(qs []Question, less func(a, b Question) bool) {
	sort.SliceStable(qs, func(i, j int) bool { return less(qs[i], qs[j]) })
}
