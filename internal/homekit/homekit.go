// Package homekit turns an already-discovered smart-home configuration into
// note-store writes. Only the note-shaped output matters to the rest of the
// system; discovery itself happens elsewhere.
package homekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c11s/house-core/internal/errs"
	"github.com/c11s/house-core/internal/obs"
	"github.com/c11s/house-core/internal/store"
)

// SummaryQuestionID is the synthetic question holding the import summary.
const SummaryQuestionID = "homekit-summary"

// Accessory is one discovered device.
type Accessory struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Room groups accessories.
type Room struct {
	Name        string      `json:"name"`
	Accessories []Accessory `json:"accessories"`
}

// Home is one discovered home.
type Home struct {
	Name  string `json:"name"`
	Rooms []Room `json:"rooms"`
}

// Configuration is a full discovery snapshot.
type Configuration struct {
	Homes []Home `json:"homes"`
}

// Counts returns home, room, and accessory totals.
func (c Configuration) Counts() (homes, rooms, accessories int) {
	homes = len(c.Homes)
	for _, h := range c.Homes {
		rooms += len(h.Rooms)
		for _, r := range h.Rooms {
			accessories += len(r.Accessories)
		}
	}
	return homes, rooms, accessories
}

// ParseConfiguration decodes a discovery snapshot from JSON.
func ParseConfiguration(data []byte) (Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode smart home configuration: %w", err)
	}
	return cfg, nil
}

// Adapter writes discovered configuration into the note store.
type Adapter struct {
	notes *store.Service
	log   *slog.Logger
}

// NewAdapter wires a homekit adapter.
func NewAdapter(notes *store.Service) *Adapter {
	return &Adapter{notes: notes, log: obs.Pkg("homekit")}
}

// Import writes one note per discovered room plus a summary note whose
// metadata carries the structured counts the completion hook reads. Imported
// notes never re-enter the conversation queue.
func (a *Adapter) Import(ctx context.Context, cfg Configuration) error {
	homes, rooms, accessories := cfg.Counts()
	if homes == 0 {
		return errs.New(errs.InvalidArgument, "configuration has no homes")
	}

	for _, home := range cfg.Homes {
		for _, room := range home.Rooms {
			if err := a.importRoom(ctx, home, room); err != nil {
				return err
			}
		}
	}

	if err := a.ensureQuestion(ctx, SummaryQuestionID, "What did the smart home import find?", 900); err != nil {
		return err
	}
	summary := fmt.Sprintf("Imported %d home(s) with %d room(s) and %d device(s).", homes, rooms, accessories)
	err := a.notes.SaveOrUpdateNote(ctx, SummaryQuestionID, summary, map[string]string{
		store.MetaSource:                 "homekit",
		store.MetaUpdatedViaConversation: "true",
		store.MetaHomeKitImport:          "true",
		store.MetaHomeKitHomeCount:       strconv.Itoa(homes),
		store.MetaHomeKitRoomCount:       strconv.Itoa(rooms),
		store.MetaHomeKitAccessoryCount:  strconv.Itoa(accessories),
	})
	if err != nil {
		return err
	}

	a.log.Info("imported smart home configuration", "homes", homes, "rooms", rooms, "accessories", accessories)
	return nil
}

func (a *Adapter) importRoom(ctx context.Context, home Home, room Room) error {
	id := "homekit-room-" + slug(home.Name) + "-" + slug(room.Name)
	text := fmt.Sprintf("What should I know about the %s?", room.Name)
	if err := a.ensureQuestion(ctx, id, text, 800); err != nil {
		return err
	}

	answer := room.Name
	if len(room.Accessories) > 0 {
		names := make([]string, 0, len(room.Accessories))
		for _, acc := range room.Accessories {
			names = append(names, acc.Name)
		}
		answer = fmt.Sprintf("%s has %d device(s): %s.", room.Name, len(room.Accessories), strings.Join(names, ", "))
	}
	return a.notes.SaveOrUpdateNote(ctx, id, answer, map[string]string{
		store.MetaSource:                 "homekit",
		store.MetaUpdatedViaConversation: "true",
	})
}

func (a *Adapter) ensureQuestion(ctx context.Context, id, text string, order int) error {
	err := a.notes.AddQuestion(ctx, store.Question{
		ID:           id,
		Text:         text,
		Category:     store.CategoryHouseInfo,
		Kind:         store.KindRoomNote,
		DisplayOrder: order,
		IsRequired:   false,
	})
	if err != nil && errs.CodeOf(err) != errs.AlreadyExists {
		return err
	}
	return nil
}

func slug(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
