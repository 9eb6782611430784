package store

import "strings"

// CurrentVersion is the schema version of the persisted document.
//
// Version history:
//
//	1 — questions carried no kind tag; behavior was dispatched on prompt
//	    text, and seed questions used ad-hoc ids.
//	2 — adds Question.Kind and renames seed questions to the stable slugs
//	    in seed.yaml.
const CurrentVersion = 2

// migrate upgrades a stored document in place to CurrentVersion. It is purely
// additive/renaming: an answered note is never dropped without first carrying
// its answer and timestamps forward to a replacement question identified by
// matching prompt text. Running migrate on an already-migrated document is a
// no-op, so the function reports whether anything changed.
func migrate(data *StoreData, defaults []Question) bool {
	if data.Version >= CurrentVersion {
		return false
	}

	if data.Notes == nil {
		data.Notes = make(map[string]Note)
	}

	// Rename seed questions to their stable ids, keyed by prompt text. The
	// note moves with the question so answers and timestamps survive.
	for _, def := range defaults {
		if data.QuestionByID(def.ID) != nil {
			continue
		}
		for i := range data.Questions {
			old := data.Questions[i]
			if old.ID == def.ID || !sameQuestionText(old.Text, def.Text) {
				continue
			}
			data.Questions[i].ID = def.ID
			if note, ok := data.Notes[old.ID]; ok {
				note.QuestionID = def.ID
				data.Notes[def.ID] = note
				delete(data.Notes, old.ID)
			}
			break
		}
	}

	// Backfill the kind tag for documents written before it existed.
	for i := range data.Questions {
		if data.Questions[i].Kind == "" {
			data.Questions[i].Kind = inferKind(data.Questions[i].Text)
		}
	}

	data.Version = CurrentVersion
	return true
}

func sameQuestionText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// inferKind recovers the behavior tag from prompt text. This substring
// matching is exactly what version 1 did at runtime; it survives only here,
// fenced inside the one-way migration.
func inferKind(text string) QuestionKind {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "address"):
		return KindAddress
	case strings.Contains(lower, "call this house"):
		return KindHouseName
	case strings.Contains(lower, "your name"):
		return KindUserName
	case strings.Contains(lower, "room"):
		return KindRoomNote
	default:
		return KindGeneric
	}
}
