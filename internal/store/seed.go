package store

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type seedQuestion struct {
	ID           string `yaml:"id"`
	Text         string `yaml:"text"`
	Kind         string `yaml:"kind"`
	Category     string `yaml:"category"`
	DisplayOrder int    `yaml:"display_order"`
	Required     bool   `yaml:"required"`
	Hint         string `yaml:"hint"`
}

type seedFile struct {
	Questions []seedQuestion `yaml:"questions"`
}

var seedQuestions = mustParseSeed()

func mustParseSeed() []seedQuestion {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		panic(fmt.Sprintf("invalid embedded seed.yaml: %v", err))
	}
	if len(f.Questions) == 0 {
		panic("embedded seed.yaml defines no questions")
	}
	seen := make(map[string]bool, len(f.Questions))
	for _, q := range f.Questions {
		if q.ID == "" || q.Text == "" {
			panic("embedded seed.yaml question missing id or text")
		}
		if seen[q.ID] {
			panic(fmt.Sprintf("embedded seed.yaml duplicates question id %q", q.ID))
		}
		seen[q.ID] = true
	}
	return f.Questions
}

// DefaultQuestions returns the predefined question set with CreatedAt set to
// the given time. The ids are stable across store versions.
func DefaultQuestions(now time.Time) []Question {
	out := make([]Question, 0, len(seedQuestions))
	for _, s := range seedQuestions {
		out = append(out, Question{
			ID:           s.ID,
			Text:         s.Text,
			Category:     Category(s.Category),
			Kind:         QuestionKind(s.Kind),
			DisplayOrder: s.DisplayOrder,
			IsRequired:   s.Required,
			Hint:         s.Hint,
			CreatedAt:    now,
		})
	}
	return out
}

// Well-known seed question ids.
const (
	QuestionIDAddress   = "home-address"
	QuestionIDHouseName = "house-name"
	QuestionIDUserName  = "resident-name"
	QuestionIDRoomTour  = "room-tour"
)
