package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/aisuggest"
	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/session"
	"github.com/yishak-cs/cartrecs/internal/store"
)

type fakeAI struct {
	calls   atomic.Int32
	result  aisuggest.Result
	release chan struct{}
}

func (f *fakeAI) Suggest(ctx context.Context, _ []string, _ string) aisuggest.Result {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return aisuggest.Unavailable(apperr.NewAIError(apperr.AIKindTimeout, ctx.Err()))
		}
	}
	return f.result
}

type fakeScorer struct {
	personal []models.Suggestion
	err      error
	popular  []models.Suggestion
}

func (f *fakeScorer) Score(context.Context, string) ([]models.Suggestion, error) {
	return f.personal, f.err
}

func (f *fakeScorer) Popular(_ map[string]struct{}, n int) []models.Suggestion {
	if len(f.popular) > n {
		return f.popular[:n]
	}
	return f.popular
}

func publish(t *testing.T, edges ...models.RecommendationEdge) *store.Store {
	t.Helper()
	st := store.New()
	if len(edges) > 0 {
		_, err := st.Publish(1, edges)
		require.NoError(t, err)
	}
	return st
}

func rule(from, to string, confidence float64) models.RecommendationEdge {
	return models.RecommendationEdge{ItemID: from, RecommendedItemID: to, Support: 0.1, Confidence: confidence, Lift: 1.5}
}

func newTestService(ai AISuggester, st store.Reader, scorer PersonalScorer) *RecommendationService {
	return NewRecommendationService(ai, st, scorer, session.NewCoordinator(nil, time.Hour, logger.Nop()), DefaultConfig(), logger.Nop())
}

func suggestionIDs(s []models.Suggestion) []string {
	out := make([]string, 0, len(s))
	for _, sug := range s {
		out = append(out, sug.ID)
	}
	return out
}

func TestMergeSuggestionsPriority(t *testing.T) {
	ai := aisuggest.OK([]string{"X", "Y"}, "ai says")
	rules := []models.RecommendationEdge{rule("A", "Y", 0.9), rule("A", "Z", 0.8), rule("A", "W", 0.7)}

	got := MergeSuggestions([]string{"A"}, ai, rules, nil, 3)
	require.Equal(t, []string{"X", "Y", "Z"}, suggestionIDs(got))
	assert.Equal(t, models.SourceAI, got[0].Source)
	assert.Equal(t, models.SourceAI, got[1].Source, "Y keeps the AI position")
	assert.Equal(t, 1.0, got[1].Score)
	assert.Equal(t, "ai says", got[1].Rationale)
	assert.Equal(t, models.SourceRule, got[2].Source)
	assert.Equal(t, 0.8, got[2].Score)
	assert.Equal(t, "Customers who order A also order this", got[2].Rationale)
}

func TestMergeSuggestionsSkipsCartAndFillsFromPersonal(t *testing.T) {
	rules := []models.RecommendationEdge{rule("A", "B", 0.9), rule("B", "C", 0.5)}
	personal := []models.Suggestion{
		{ID: "C", Score: 0.4, Source: models.SourcePersonalized},
		{ID: "D", Score: 0.3, Source: models.SourcePersonalized},
		{ID: "E", Score: 0.2, Source: models.SourcePopular},
	}

	got := MergeSuggestions([]string{"A", "B"}, aisuggest.Unavailable(errors.New("down")), rules, personal, 6)
	assert.Equal(t, []string{"C", "D", "E"}, suggestionIDs(got))
	assert.Equal(t, models.SourceRule, got[0].Source)
	assert.Equal(t, models.SourcePopular, got[2].Source)
}

func TestMergeSuggestionsNoDuplicatesAndCap(t *testing.T) {
	ai := aisuggest.OK([]string{"X", "X", "A"}, "r")
	rules := []models.RecommendationEdge{rule("A", "X", 0.9), rule("A", "Y", 0.8)}
	personal := []models.Suggestion{{ID: "Y"}, {ID: "Z"}, {ID: "Q"}}

	got := MergeSuggestions([]string{"A"}, ai, rules, personal, 2)
	assert.Equal(t, []string{"X", "Y"}, suggestionIDs(got))

	assert.Empty(t, MergeSuggestions(nil, aisuggest.OK(nil, ""), nil, nil, 3))
}

func TestSuggestFallsBackWhenAITimesOut(t *testing.T) {
	ai := &fakeAI{result: aisuggest.Unavailable(apperr.NewAIError(apperr.AIKindTimeout, context.DeadlineExceeded))}
	st := publish(t, rule("itemA", "fries", 0.7), rule("itemA", "cola", 0.5))
	svc := newTestService(ai, st, &fakeScorer{})

	req := models.SuggestionRequest{CartItemIDs: []string{"itemA"}, SessionID: "s1", View: models.ViewCart}
	first, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"fries", "cola"}, suggestionIDs(first.Suggestions))
	assert.True(t, first.UsedFallback)
	assert.True(t, first.ShowFallbackNotice)
	assert.Equal(t, models.StateDegraded, first.State)
	assert.Equal(t, "itemA", first.Fingerprint)

	second, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.UsedFallback)
	assert.False(t, second.ShowFallbackNotice, "notice is shown once per cart fingerprint")

	req.CartItemIDs = []string{"itemA", "fries"}
	third, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.ShowFallbackNotice)

	_, last, err := svc.SessionState("s1", models.ViewCart)
	require.NoError(t, err)
	assert.Equal(t, models.StateDegraded, last)

	_, _, err = svc.SessionState("", models.ViewCart)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, _, err = svc.SessionState("s1", "sidebar")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSuggestBoundsHangingAICall(t *testing.T) {
	ai := &fakeAI{result: aisuggest.OK([]string{"cake"}, ""), release: make(chan struct{})}
	defer close(ai.release)
	st := publish(t, rule("burger", "fries", 0.7))
	scorer := &fakeScorer{personal: []models.Suggestion{{ID: "shake", Score: 0.3, Source: models.SourcePersonalized}}}

	cfg := DefaultConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	svc := NewRecommendationService(ai, st, scorer, session.NewCoordinator(nil, time.Hour, logger.Nop()), cfg, logger.Nop())

	started := time.Now()
	resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{
		CartItemIDs: []string{"burger"},
		SessionID:   "s-hang",
		UserID:      "u1",
		View:        models.ViewCart,
	})
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, cfg.RequestTimeout)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int32(1), ai.calls.Load())
	assert.Equal(t, []string{"fries", "shake"}, suggestionIDs(resp.Suggestions))
	assert.True(t, resp.UsedFallback)
	assert.True(t, resp.ShowFallbackNotice)
	assert.Equal(t, models.StateDegraded, resp.State)
}

func TestSuggestMergedWhenAIAnswers(t *testing.T) {
	ai := &fakeAI{result: aisuggest.OK([]string{"cake"}, "Dessert")}
	st := publish(t, rule("burger", "fries", 0.7))
	svc := newTestService(ai, st, &fakeScorer{personal: []models.Suggestion{{ID: "cola", Source: models.SourcePersonalized}}})

	resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"burger"}, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cake", "fries", "cola"}, suggestionIDs(resp.Suggestions))
	assert.False(t, resp.UsedFallback)
	assert.False(t, resp.ShowFallbackNotice)
	assert.Equal(t, models.StateMerged, resp.State)
}

func TestSuggestEmptyCartSkipsAIAndRules(t *testing.T) {
	ai := &fakeAI{result: aisuggest.OK([]string{"cake"}, "")}
	st := publish(t, rule("burger", "fries", 0.7))
	scorer := &fakeScorer{personal: []models.Suggestion{{ID: "cola", Source: models.SourcePopular}}}
	svc := newTestService(ai, st, scorer)

	resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{" ", ""}, SessionID: "s1"})
	require.NoError(t, err)
	assert.Zero(t, ai.calls.Load())
	assert.Equal(t, []string{"cola"}, suggestionIDs(resp.Suggestions))
	assert.False(t, resp.UsedFallback)
	assert.Equal(t, models.StateMerged, resp.State)
}

func TestSuggestPersonalFailureIsNotFatal(t *testing.T) {
	svc := newTestService(&fakeAI{result: aisuggest.OK(nil, "")}, publish(t, rule("a", "b", 0.5)), &fakeScorer{err: errors.New("boom")})

	resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, suggestionIDs(resp.Suggestions))
}

func TestSuggestAnonymousAlwaysShowsNotice(t *testing.T) {
	ai := &fakeAI{result: aisuggest.Unavailable(apperr.ErrNotConfigured)}
	svc := newTestService(ai, publish(t, rule("a", "b", 0.5)), &fakeScorer{})

	for i := 0; i < 2; i++ {
		resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"a"}})
		require.NoError(t, err)
		assert.True(t, resp.UsedFallback)
		assert.True(t, resp.ShowFallbackNotice)
	}
}

func TestSuggestDetailViewCapsAtThree(t *testing.T) {
	st := publish(t,
		rule("a", "b", 0.9), rule("a", "c", 0.8), rule("a", "d", 0.7),
		rule("a", "e", 0.6), rule("a", "f", 0.5),
	)
	svc := newTestService(&fakeAI{result: aisuggest.OK(nil, "")}, st, &fakeScorer{})

	detail, err := svc.ItemSuggestions(context.Background(), "a", "", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, suggestionIDs(detail.Suggestions))

	cart, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"a"}, View: models.ViewCart})
	require.NoError(t, err)
	assert.Len(t, cart.Suggestions, 5)

	_, err = svc.ItemSuggestions(context.Background(), " ", "", "s1")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSuggestRejectsUnknownView(t *testing.T) {
	svc := newTestService(nil, publish(t), &fakeScorer{})
	_, err := svc.Suggest(context.Background(), models.SuggestionRequest{View: "sidebar"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSuggestCoalescesIdenticalRequests(t *testing.T) {
	ai := &fakeAI{result: aisuggest.OK([]string{"cake"}, ""), release: make(chan struct{})}
	svc := newTestService(ai, publish(t, rule("a", "b", 0.5)), &fakeScorer{})
	req := models.SuggestionRequest{CartItemIDs: []string{"a"}, SessionID: "s1"}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*models.SuggestionResponse, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Suggest(context.Background(), req)
			if assert.NoError(t, err) {
				results[i] = resp
			}
		}(i)
	}

	require.Eventually(t, func() bool { return ai.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(ai.release)
	wg.Wait()

	assert.Equal(t, int32(1), ai.calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, []string{"cake", "b"}, suggestionIDs(r.Suggestions))
	}
	results[0].Suggestions[0].ID = "mutated"
	assert.Equal(t, "cake", results[1].Suggestions[0].ID, "callers get independent slices")
}

func TestSuggestSupersededResultIsFlagged(t *testing.T) {
	ai := &fakeAI{result: aisuggest.Unavailable(errors.New("down")), release: make(chan struct{})}
	coord := session.NewCoordinator(nil, time.Hour, logger.Nop())
	svc := NewRecommendationService(ai, publish(t, rule("a", "b", 0.5)), &fakeScorer{}, coord, DefaultConfig(), logger.Nop())

	done := make(chan *models.SuggestionResponse, 1)
	go func() {
		resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"a"}, SessionID: "s1"})
		assert.NoError(t, err)
		done <- resp
	}()
	require.Eventually(t, func() bool { return ai.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A newer cart for the same session supersedes the in-flight request.
	coord.Begin("s1", models.ViewCart, "a,c")
	close(ai.release)

	resp := <-done
	assert.True(t, resp.Superseded)
	assert.True(t, resp.UsedFallback)
	assert.False(t, resp.ShowFallbackNotice, "superseded results never claim the notice")
}

func TestSuggestDetailViewDoesNotSupersedeCart(t *testing.T) {
	ai := &fakeAI{result: aisuggest.Unavailable(errors.New("down")), release: make(chan struct{})}
	svc := newTestService(ai, publish(t, rule("a", "b", 0.5), rule("c", "d", 0.5)), &fakeScorer{})

	done := make(chan *models.SuggestionResponse, 1)
	go func() {
		resp, err := svc.Suggest(context.Background(), models.SuggestionRequest{CartItemIDs: []string{"a"}, SessionID: "s1", View: models.ViewCart})
		assert.NoError(t, err)
		done <- resp
	}()
	require.Eventually(t, func() bool { return ai.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	detail := make(chan *models.SuggestionResponse, 1)
	go func() {
		resp, err := svc.ItemSuggestions(context.Background(), "c", "", "s1")
		assert.NoError(t, err)
		detail <- resp
	}()
	require.Eventually(t, func() bool { return ai.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(ai.release)

	cart := <-done
	assert.False(t, cart.Superseded)
	assert.True(t, cart.ShowFallbackNotice)
	assert.Equal(t, models.StateDegraded, cart.State)

	item := <-detail
	assert.False(t, item.Superseded)
	assert.True(t, item.ShowFallbackNotice, "the detail cart has its own fingerprint")
}

func TestPersonalizedAndPopular(t *testing.T) {
	scorer := &fakeScorer{
		personal: []models.Suggestion{{ID: "p"}},
		popular:  []models.Suggestion{{ID: "x"}, {ID: "y"}, {ID: "z"}, {ID: "w"}},
	}
	svc := newTestService(nil, publish(t), scorer)

	got, err := svc.Personalized(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, suggestionIDs(got))

	_, err = svc.Personalized(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	assert.Len(t, svc.Popular(0), 3)
	assert.Len(t, svc.Popular(2), 2)
}
