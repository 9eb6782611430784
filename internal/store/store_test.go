package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c11s/house-core/internal/errs"
)

// testKeyHex is the hardcoded document key for tests.
const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// testCounter provides unique names for in-memory databases so every test
// gets a fully isolated store.
var testCounter atomic.Int64

func newTestDocDB(t interface {
	Fatalf(format string, args ...interface{})
}) *DocDB {
	id := testCounter.Add(1)
	docs, err := OpenInMemory(fmt.Sprintf("store-test%d", id), testKeyHex)
	if err != nil {
		t.Fatalf("failed to open in-memory document database: %v", err)
	}
	return docs
}

func setupStore(t testing.TB) *Service {
	t.Helper()
	docs := newTestDocDB(t)
	t.Cleanup(func() { docs.Close() })
	return New(docs)
}

func setupStoreRapid(t *rapid.T) *Service {
	return New(newTestDocDB(t))
}

func TestLoad_FreshStoreSeedsDefaults(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	data, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, data.Version)
	require.Len(t, data.Questions, 4)
	require.Empty(t, data.Notes)

	queue, err := svc.QuestionsNeedingReview(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(queue))
	for _, q := range queue {
		ids = append(ids, q.ID)
	}
	require.Equal(t, []string{
		QuestionIDAddress,
		QuestionIDHouseName,
		QuestionIDUserName,
		QuestionIDRoomTour,
	}, ids)
}

func TestSaveNote_UnknownQuestionFails(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)

	err := svc.SaveNote(context.Background(), Note{QuestionID: "no-such-question", Answer: "x"})
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestSaveNote_UpsertAndRead(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	err := svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Ada"})
	require.NoError(t, err)

	note, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.NotNil(t, note)
	require.Equal(t, "Ada", note.Answer)
	require.False(t, note.CreatedAt.IsZero())
	require.False(t, note.LastModified.IsZero())
	created := note.CreatedAt

	// Upsert replaces the answer but keeps the original creation time.
	err = svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Grace"})
	require.NoError(t, err)
	note, err = svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.Equal(t, "Grace", note.Answer)
	require.Equal(t, created, note.CreatedAt)
}

func TestUpdateNote_MissingNoteFails(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)

	err := svc.UpdateNote(context.Background(), Note{QuestionID: QuestionIDUserName, Answer: "x"})
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestUpdateNote_BumpsLastModifiedRegardlessOfCaller(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Ada"}))

	current = base.Add(time.Hour)
	stale := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	err := svc.UpdateNote(ctx, Note{
		QuestionID:   QuestionIDUserName,
		Answer:       "Grace",
		LastModified: stale,
	})
	require.NoError(t, err)

	note, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.Equal(t, "Grace", note.Answer)
	require.Equal(t, base.Add(time.Hour), note.LastModified)
	require.Equal(t, base, note.CreatedAt)
}

func TestDeleteNote_AbsentIsNoop(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	require.NoError(t, svc.DeleteNote(ctx, QuestionIDUserName))

	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Ada"}))
	require.NoError(t, svc.DeleteNote(ctx, QuestionIDUserName))
	note, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.Nil(t, note)
}

func TestAddQuestion_DuplicateFails(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	q := NewQuestion("Which plants need watering?", CategoryMaintenance, 100, false)
	require.NoError(t, svc.AddQuestion(ctx, q))

	err := svc.AddQuestion(ctx, q)
	require.Error(t, err)
	require.Equal(t, errs.AlreadyExists, errs.CodeOf(err))
}

func TestDeleteQuestion_CascadesNote(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	q := NewQuestion("Garage door code location?", CategoryHouseInfo, 110, false)
	require.NoError(t, svc.AddQuestion(ctx, q))
	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: q.ID, Answer: "in the drawer"}))

	require.NoError(t, svc.DeleteQuestion(ctx, q.ID))

	data, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, data.QuestionByID(q.ID))

	note, err := svc.GetNote(ctx, q.ID)
	require.NoError(t, err)
	require.Nil(t, note)
}

func TestDeleteQuestion_MissingFails(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)

	err := svc.DeleteQuestion(context.Background(), "no-such-question")
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestResetToDefaults_PreservesSurvivingAnswers(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Ada"}))

	custom := NewQuestion("Favorite dinner music?", CategoryPreferences, 200, false)
	require.NoError(t, svc.AddQuestion(ctx, custom))
	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: custom.ID, Answer: "jazz"}))

	require.NoError(t, svc.ResetToDefaults(ctx))

	data, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Len(t, data.Questions, 4)
	require.Nil(t, data.QuestionByID(custom.ID))

	kept, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Equal(t, "Ada", kept.Answer)

	dropped, err := svc.GetNote(ctx, custom.ID)
	require.NoError(t, err)
	require.Nil(t, dropped)
}

func TestClearAllData_WipesNotes(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveNote(ctx, Note{QuestionID: QuestionIDUserName, Answer: "Ada"}))
	require.NoError(t, svc.ClearAllData(ctx))

	data, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Len(t, data.Questions, 4)
	require.Empty(t, data.Notes)
	require.Equal(t, CurrentVersion, data.Version)
}

func TestSaveOrUpdateNote_MergesMetadata(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	err := svc.SaveOrUpdateNote(ctx, QuestionIDAddress, "123 Main St, Springfield, IL 62701", map[string]string{
		MetaSource: "geocoder",
	})
	require.NoError(t, err)

	err = svc.SaveOrUpdateNote(ctx, QuestionIDAddress, "123 Main St, Springfield, IL 62701", map[string]string{
		MetaUpdatedViaConversation: "true",
	})
	require.NoError(t, err)

	note, err := svc.GetNote(ctx, QuestionIDAddress)
	require.NoError(t, err)
	require.Equal(t, "geocoder", note.Metadata[MetaSource])
	require.Equal(t, "true", note.Metadata[MetaUpdatedViaConversation])
}

func TestCompletionAndProgress(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	done, err := svc.AreAllRequiredQuestionsAnswered(ctx)
	require.NoError(t, err)
	require.False(t, done)

	for _, id := range []string{QuestionIDAddress, QuestionIDHouseName, QuestionIDUserName, QuestionIDRoomTour} {
		require.NoError(t, svc.SaveOrUpdateNote(ctx, id, "answered", nil))
	}

	done, err = svc.AreAllRequiredQuestionsAnswered(ctx)
	require.NoError(t, err)
	require.True(t, done)

	progress, err := svc.GetQuestionProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, progress.Answered)
	require.Equal(t, 4, progress.Total)
	require.InDelta(t, 100.0, progress.Percentage, 0.001)
}

func TestWhitespaceAnswerIsUnanswered(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveOrUpdateNote(ctx, QuestionIDUserName, "   ", nil))

	note, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.False(t, note.IsAnswered())
	require.True(t, note.NeedsConversationReview())

	unanswered, err := svc.GetUnansweredQuestions(ctx)
	require.NoError(t, err)
	found := false
	for _, q := range unanswered {
		if q.ID == QuestionIDUserName {
			found = true
		}
	}
	require.True(t, found)
}

func TestRoundTrip_NonASCIIAnswerSurvivesReload(t *testing.T) {
	t.Parallel()
	docs := newTestDocDB(t)
	t.Cleanup(func() { docs.Close() })
	ctx := context.Background()

	first := New(docs)
	answer := "café — 日本語のメモ 🎉"
	require.NoError(t, first.SaveOrUpdateNote(ctx, QuestionIDRoomTour, answer, nil))

	// A fresh service over the same database must see an equal document.
	second := New(docs)
	note, err := second.GetNote(ctx, QuestionIDRoomTour)
	require.NoError(t, err)
	require.NotNil(t, note)
	require.Equal(t, answer, note.Answer)
	require.Empty(t, note.Metadata)
}

func TestLoad_CorruptDocumentSurfacesCorruption(t *testing.T) {
	t.Parallel()
	docs := newTestDocDB(t)
	t.Cleanup(func() { docs.Close() })
	ctx := context.Background()

	require.NoError(t, docs.put(ctx, StorageKey, "{not valid json"))

	svc := New(docs)
	_, err := svc.Load(ctx)
	require.Error(t, err)
	require.Equal(t, errs.Corrupted, errs.CodeOf(err))

	// Corruption must not be papered over with a fresh seed store.
	body, found, err := docs.get(ctx, StorageKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "{not valid json", body)
}

func TestSubscribe_DeliversImmutableSnapshots(t *testing.T) {
	t.Parallel()
	svc := setupStore(t)
	ctx := context.Background()

	ch, cancel := svc.Subscribe()
	defer cancel()

	require.NoError(t, svc.SaveOrUpdateNote(ctx, QuestionIDUserName, "Ada", nil))

	var snapshot StoreData
	select {
	case snapshot = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}
	require.Equal(t, "Ada", snapshot.Notes[QuestionIDUserName].Answer)

	// Mutating the received snapshot must not leak back into the store.
	delete(snapshot.Notes, QuestionIDUserName)
	note, err := svc.GetNote(ctx, QuestionIDUserName)
	require.NoError(t, err)
	require.NotNil(t, note)
}

// =============================================================================
// Property: notes keys remain a subset of question ids after any mutation mix
// =============================================================================

func testReferentialIntegrity_Properties(t *rapid.T) {
	svc := setupStoreRapid(t)
	ctx := context.Background()

	ids := []string{QuestionIDAddress, QuestionIDHouseName, QuestionIDUserName, QuestionIDRoomTour}
	steps := rapid.IntRange(1, 12).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		op := rapid.IntRange(0, 4).Draw(t, fmt.Sprintf("op%d", i))
		id := rapid.SampledFrom(ids).Draw(t, fmt.Sprintf("id%d", i))
		switch op {
		case 0:
			_ = svc.SaveOrUpdateNote(ctx, id, rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, fmt.Sprintf("ans%d", i)), nil)
		case 1:
			_ = svc.DeleteNote(ctx, id)
		case 2:
			q := NewQuestion(fmt.Sprintf("custom question %d?", i), CategoryOther, 500+i, false)
			if err := svc.AddQuestion(ctx, q); err == nil {
				ids = append(ids, q.ID)
			}
		case 3:
			if err := svc.DeleteQuestion(ctx, id); err == nil {
				kept := ids[:0]
				for _, existing := range ids {
					if existing != id {
						kept = append(kept, existing)
					}
				}
				ids = kept
			}
		case 4:
			_ = svc.ResetToDefaults(ctx)
			ids = []string{QuestionIDAddress, QuestionIDHouseName, QuestionIDUserName, QuestionIDRoomTour}
		}

		data, err := svc.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		for noteID := range data.Notes {
			if data.QuestionByID(noteID) == nil {
				t.Fatalf("note %q has no matching question after op %d", noteID, op)
			}
		}
	}
}

func TestReferentialIntegrity_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testReferentialIntegrity_Properties)
}

// =============================================================================
// Property: review queue orders required before optional, then display order
// =============================================================================

func testReviewQueueOrdering_Properties(t *rapid.T) {
	count := rapid.IntRange(1, 10).Draw(t, "count")
	data := StoreData{Version: CurrentVersion, Notes: map[string]Note{}}
	for i := 0; i < count; i++ {
		data.Questions = append(data.Questions, Question{
			ID:           fmt.Sprintf("q%d", i),
			Text:         fmt.Sprintf("question %d?", i),
			Category:     CategoryOther,
			Kind:         KindGeneric,
			DisplayOrder: rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("order%d", i)),
			IsRequired:   rapid.Bool().Draw(t, fmt.Sprintf("required%d", i)),
			CreatedAt:    time.Now().UTC(),
		})
	}

	queue := reviewQueue(data)
	if len(queue) != count {
		t.Fatalf("queue dropped entries: got %d want %d", len(queue), count)
	}

	sawOptional := false
	for i, q := range queue {
		if !q.IsRequired {
			sawOptional = true
		} else if sawOptional {
			t.Fatalf("required question %q after optional at position %d", q.ID, i)
		}
		if i > 0 && queue[i-1].IsRequired == q.IsRequired && queue[i-1].DisplayOrder > q.DisplayOrder {
			t.Fatalf("display order not ascending within partition at position %d", i)
		}
	}
}

func TestReviewQueueOrdering_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testReviewQueueOrdering_Properties)
}

// =============================================================================
// Property: SaveOrUpdateNote is idempotent for answer and merged metadata
// =============================================================================

func testSaveOrUpdateNote_Idempotent_Properties(t *rapid.T) {
	svc := setupStoreRapid(t)
	ctx := context.Background()

	answer := rapid.StringMatching(`[A-Za-z0-9 .,]{1,60}`).Draw(t, "answer")
	metaKeys := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z_]{1,12}`), rapid.ID[string]).Draw(t, "metaKeys")
	metadata := make(map[string]string, len(metaKeys))
	for _, k := range metaKeys {
		metadata[k] = rapid.StringMatching(`[a-z0-9]{0,10}`).Draw(t, "metaVal_"+k)
	}

	if err := svc.SaveOrUpdateNote(ctx, QuestionIDRoomTour, answer, metadata); err != nil {
		t.Fatalf("first SaveOrUpdateNote failed: %v", err)
	}
	first, err := svc.GetNote(ctx, QuestionIDRoomTour)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}

	if err := svc.SaveOrUpdateNote(ctx, QuestionIDRoomTour, answer, metadata); err != nil {
		t.Fatalf("second SaveOrUpdateNote failed: %v", err)
	}
	second, err := svc.GetNote(ctx, QuestionIDRoomTour)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}

	if first.Answer != second.Answer {
		t.Fatalf("answer changed on repeat: %q vs %q", first.Answer, second.Answer)
	}
	if len(first.Metadata) != len(second.Metadata) {
		t.Fatalf("metadata size changed on repeat: %d vs %d", len(first.Metadata), len(second.Metadata))
	}
	for k, v := range first.Metadata {
		if second.Metadata[k] != v {
			t.Fatalf("metadata %q changed on repeat: %q vs %q", k, v, second.Metadata[k])
		}
	}
	if !strings.EqualFold(second.QuestionID, QuestionIDRoomTour) {
		t.Fatalf("unexpected question id %q", second.QuestionID)
	}
}

func TestSaveOrUpdateNote_Idempotent_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testSaveOrUpdateNote_Idempotent_Properties)
}

func FuzzSaveOrUpdateNote_Idempotent_Properties(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testSaveOrUpdateNote_Idempotent_Properties))
}
