package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	charapp "charsearch/internal/app/character"
	"charsearch/internal/app/fallback"
	"charsearch/internal/domain/character"
	"charsearch/internal/domain/view"
	"charsearch/internal/platform/gql"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var rick = character.Character{
	ID:       "1",
	Name:     "Rick Sanchez",
	Species:  "Human",
	Status:   "Alive",
	Gender:   "Male",
	Origin:   character.Location{Name: "Earth (C-137)"},
	Location: character.Location{Name: "Citadel of Ricks"},
	Image:    "https://rickandmortyapi.com/api/character/avatar/1.jpeg",
}

type listReply struct {
	chars []character.Character
	err   error
}

// scriptedLister answers by term. A term with a gate blocks until the gate
// is closed or the context is cancelled.
type scriptedLister struct {
	mu       sync.Mutex
	replies  map[string]listReply
	gates    map[string]chan struct{}
	returned map[string]chan struct{}
	calls    map[string]int
}

// newScriptedLister answers the initial unfiltered query with rick; other
// unscripted terms get an empty result.
func newScriptedLister() *scriptedLister {
	return &scriptedLister{
		replies:  map[string]listReply{"": {chars: []character.Character{rick}}},
		gates:    make(map[string]chan struct{}),
		returned: make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (l *scriptedLister) reply(term string, chars []character.Character, err error) *scriptedLister {
	l.replies[term] = listReply{chars: chars, err: err}
	return l
}

func (l *scriptedLister) gate(term string) chan struct{} {
	g := make(chan struct{})
	l.gates[term] = g
	l.returned[term] = make(chan struct{})
	return g
}

func (l *scriptedLister) ListCharacters(ctx context.Context, term string) ([]character.Character, error) {
	l.mu.Lock()
	l.calls[term]++
	r, ok := l.replies[term]
	g := l.gates[term]
	done := l.returned[term]
	l.mu.Unlock()

	if done != nil {
		defer close(done)
	}
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return []character.Character{}, nil
	}
	return r.chars, r.err
}

// GetCharacterByID lets the lister back a real fallback.Selector; the list
// strategy never calls it.
func (l *scriptedLister) GetCharacterByID(_ context.Context, id int) (character.Character, error) {
	return character.Character{}, fmt.Errorf("unexpected lookup of id %d", id)
}

func (l *scriptedLister) callCount(term string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[term]
}

type countingSelector struct {
	mu      sync.Mutex
	calls   int
	outcome fallback.Outcome
}

func (s *countingSelector) Strategy() fallback.Strategy { return fallback.StrategyRandomID }

func (s *countingSelector) Select(context.Context, []character.Character) fallback.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.outcome
	out.Strategy = fallback.StrategyRandomID
	return out
}

func (s *countingSelector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func startView(t *testing.T, lister CharacterLister, selector FallbackSelector, opts Options) (*View, *Subscriber) {
	t.Helper()
	v := NewView(zerolog.Nop(), lister, selector, opts)
	sub := v.Subscribe()
	v.Start()
	t.Cleanup(v.Stop)
	return v, sub
}

func waitFrame(t *testing.T, sub *Subscriber, what string, pred func(Frame) bool) Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-sub.Frames:
			if !ok {
				t.Fatalf("subscriber closed while waiting for %s", what)
			}
			if pred(f) {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func settled(term string, kind view.Kind) func(Frame) bool {
	return func(f Frame) bool { return f.Term == term && f.View.Kind == kind }
}

func TestSearchRendersMatchingCards(t *testing.T) {
	lister := newScriptedLister().reply("Rick", []character.Character{rick}, nil)
	selector := &countingSelector{}
	v, sub := startView(t, lister, selector, Options{})

	v.SetTerm("Rick")
	f := waitFrame(t, sub, "Rick list", settled("Rick", view.KindList))

	cards := f.View.Find(view.KindCard)
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	card := cards[0]
	if card.Text != "Rick Sanchez" || card.Key != "1" || card.Image != rick.Image {
		t.Fatalf("unexpected card %+v", card)
	}
	for label, want := range map[string]string{
		"Status":   "Alive",
		"Species":  "Human",
		"Gender":   "Male",
		"Origin":   "Earth (C-137)",
		"Location": "Citadel of Ricks",
	} {
		if got, _ := card.Field(label); got != want {
			t.Fatalf("field %s = %q, want %q", label, got, want)
		}
	}
	if n := len(f.View.Find(view.KindFallback)); n != 0 {
		t.Fatalf("expected no fallback section, got %d", n)
	}
	if selector.callCount() != 0 {
		t.Fatalf("expected no fallback selection, got %d", selector.callCount())
	}
	if snap := v.Snapshot(); snap.Status != StatusSucceeded || len(snap.Characters) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestEmptyResultRendersOneFallbackCard(t *testing.T) {
	lister := newScriptedLister().reply("Zzzznotreal", []character.Character{}, nil)
	morty := character.Character{ID: "2", Name: "Morty Smith"}
	selector := &countingSelector{outcome: fallback.Outcome{Status: fallback.StatusFound, Character: &morty}}
	v, sub := startView(t, lister, selector, Options{})

	waitFrame(t, sub, "initial list", settled("", view.KindList))
	before := selector.callCount()

	v.SetTerm("Zzzznotreal")
	f := waitFrame(t, sub, "fallback", func(f Frame) bool {
		return f.Term == "Zzzznotreal" && len(f.View.Find(view.KindFallback)) == 1
	})

	cards := f.View.Find(view.KindCard)
	if len(cards) != 1 || cards[0].Text != "Morty Smith" {
		t.Fatalf("expected exactly one fallback card, got %+v", cards)
	}
	fb := f.View.Find(view.KindFallback)[0]
	if fb.Text != fallbackFraming {
		t.Fatalf("expected framing text %q, got %q", fallbackFraming, fb.Text)
	}
	if got := selector.callCount() - before; got != 1 {
		t.Fatalf("expected one fallback selection for the search, got %d", got)
	}
}

func TestFetchFailureRendersErrorOnly(t *testing.T) {
	lister := newScriptedLister().reply("Rick", nil, errors.New("connection refused"))
	selector := &countingSelector{}
	v, sub := startView(t, lister, selector, Options{})
	waitFrame(t, sub, "initial list", settled("", view.KindList))
	before := selector.callCount()

	v.SetTerm("Rick")
	f := waitFrame(t, sub, "error", settled("Rick", view.KindError))
	if f.View.Text != errorText {
		t.Fatalf("expected generic error text, got %q", f.View.Text)
	}
	if len(f.View.Find(view.KindCard)) != 0 || len(f.View.Find(view.KindFallback)) != 0 {
		t.Fatalf("error view must not contain cards or fallback: %+v", f.View)
	}
	if selector.callCount() != before {
		t.Fatalf("fallback must not run on failure")
	}
	if snap := v.Snapshot(); snap.Status != StatusFailed || snap.Err == nil {
		t.Fatalf("expected failed snapshot, got %+v", snap)
	}
}

func TestStaleResultNeverOverwritesNewer(t *testing.T) {
	morty := character.Character{ID: "2", Name: "Morty Smith"}
	lister := newScriptedLister().
		reply("Rick", []character.Character{rick}, nil).
		reply("Morty", []character.Character{morty}, nil)
	release := lister.gate("Rick")
	v, sub := startView(t, lister, &countingSelector{}, Options{})

	v.SetTerm("Rick")
	v.SetTerm("Morty")
	waitFrame(t, sub, "Morty list", settled("Morty", view.KindList))

	close(release)
	select {
	case <-lister.returned["Rick"]:
	case <-time.After(2 * time.Second):
		t.Fatal("stale fetch never returned")
	}
	time.Sleep(50 * time.Millisecond)

	snap := v.Snapshot()
	if snap.Term != "Morty" || len(snap.Characters) != 1 || snap.Characters[0].Name != "Morty Smith" {
		t.Fatalf("stale result leaked into view: %+v", snap)
	}
	select {
	case f := <-sub.Frames:
		if f.Term != "Morty" {
			t.Fatalf("unexpected frame for %q after stale settle", f.Term)
		}
	default:
	}
}

func TestRepeatedTermIsNotReissued(t *testing.T) {
	lister := newScriptedLister().reply("Rick", []character.Character{rick}, nil)
	v, sub := startView(t, lister, &countingSelector{}, Options{})

	v.SetTerm("Rick")
	waitFrame(t, sub, "Rick list", settled("Rick", view.KindList))
	v.SetTerm("Rick")
	v.SetTerm("Morty")
	waitFrame(t, sub, "Morty settle", settled("Morty", view.KindEmpty))

	if n := lister.callCount("Rick"); n != 1 {
		t.Fatalf("expected 1 Rick query, got %d", n)
	}
}

func TestWhitespaceTermIsUnfiltered(t *testing.T) {
	lister := newScriptedLister().reply("Rick", []character.Character{rick}, nil)
	v, sub := startView(t, lister, &countingSelector{}, Options{})
	waitFrame(t, sub, "initial list", settled("", view.KindList))

	v.SetTerm("   ")
	v.SetTerm(" Rick ")
	waitFrame(t, sub, "Rick list", settled("Rick", view.KindList))
	if n := lister.callCount(""); n != 1 {
		t.Fatalf("whitespace term reissued the unfiltered query: %d calls", n)
	}
	if n := lister.callCount("   "); n != 0 {
		t.Fatalf("whitespace term reached the source untrimmed")
	}
}

func TestDebounceKeepsLastTerm(t *testing.T) {
	lister := newScriptedLister().reply("Rick", []character.Character{rick}, nil)
	v, sub := startView(t, lister, &countingSelector{}, Options{Debounce: 100 * time.Millisecond})

	v.SetTerm("R")
	v.SetTerm("Ri")
	v.SetTerm("Rick")
	waitFrame(t, sub, "Rick list", settled("Rick", view.KindList))

	for _, term := range []string{"R", "Ri"} {
		if n := lister.callCount(term); n != 0 {
			t.Fatalf("expected debounced term %q to be skipped, got %d queries", term, n)
		}
	}
}

func TestListStrategyReusesUnfilteredList(t *testing.T) {
	all := make([]character.Character, 5)
	for i := range all {
		all[i] = character.Character{ID: fmt.Sprint(i + 1), Name: fmt.Sprintf("Character %d", i+1)}
	}
	lister := newScriptedLister().reply("", all, nil)
	selector := fallback.NewSelector(fallback.StrategyFromList, lister, 0, zerolog.Nop(), nil)
	v, sub := startView(t, lister, selector, Options{})

	waitFrame(t, sub, "initial list", settled("", view.KindList))
	v.SetTerm("nobody")
	f := waitFrame(t, sub, "fallback", func(f Frame) bool {
		return f.Term == "nobody" && len(f.View.Find(view.KindFallback)) == 1
	})

	card := f.View.Find(view.KindCard)[0]
	var found bool
	for _, c := range all {
		if c.ID == card.Key {
			found = true
		}
	}
	if !found {
		t.Fatalf("fallback card %q not drawn from unfiltered list", card.Key)
	}
	if n := lister.callCount(""); n != 1 {
		t.Fatalf("expected unfiltered list to be fetched once, got %d", n)
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	lister := newScriptedLister()
	release := lister.gate("")
	defer close(release)
	v := NewView(zerolog.Nop(), lister, &countingSelector{}, Options{})
	sub := v.Subscribe()
	v.Start()

	f := <-sub.Frames
	if f.View.Kind != view.KindLoading {
		t.Fatalf("expected loading frame, got %s", f.View.Kind)
	}
	v.Stop()
	for range sub.Frames {
	}
	v.Stop()
	v.SetTerm("after stop")
}

func TestUnsubscribeClosesOnlyThatSubscriber(t *testing.T) {
	v, sub := startView(t, newScriptedLister(), &countingSelector{}, Options{})
	other := v.Subscribe()

	v.Unsubscribe(other)
	v.Unsubscribe(other)
	for range other.Frames {
	}

	v.SetTerm("Rick")
	waitFrame(t, sub, "Rick after unsubscribe", func(f Frame) bool { return f.Term == "Rick" })
}

func TestResolve(t *testing.T) {
	lister := newScriptedLister().reply("Rick", []character.Character{rick}, nil)
	morty := character.Character{ID: "2", Name: "Morty Smith"}
	selector := &countingSelector{outcome: fallback.Outcome{Status: fallback.StatusFound, Character: &morty}}

	snap := Resolve(context.Background(), lister, selector, "Rick")
	if snap.Status != StatusSucceeded || len(Render(snap).Find(view.KindCard)) != 1 {
		t.Fatalf("unexpected Rick resolve %+v", snap)
	}
	if selector.callCount() != 0 {
		t.Fatal("fallback must not run for a match")
	}

	snap = Resolve(context.Background(), lister, selector, "Zzzznotreal")
	if snap.Fallback == nil || snap.Fallback.Status != fallback.StatusFound {
		t.Fatalf("expected fallback outcome, got %+v", snap.Fallback)
	}
	if selector.callCount() != 1 {
		t.Fatalf("expected one fallback selection, got %d", selector.callCount())
	}
}

func TestNoMatchFromAPIRoutesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"characters":null},"errors":[{"message":"404: Not Found"}]}`))
	}))
	defer srv.Close()
	svc := charapp.NewService(gql.New(srv.URL, time.Second, zerolog.Nop()), zerolog.Nop(), nil)
	morty := character.Character{ID: "2", Name: "Morty Smith"}
	selector := &countingSelector{outcome: fallback.Outcome{Status: fallback.StatusFound, Character: &morty}}

	snap := Resolve(context.Background(), svc, selector, "Zzzznotreal")
	if snap.Status != StatusSucceeded || snap.Err != nil {
		t.Fatalf("expected succeeded empty search, got status=%s err=%v", snap.Status, snap.Err)
	}
	node := Render(snap)
	if node.Kind != view.KindEmpty {
		t.Fatalf("expected empty view, got %s", node.Kind)
	}
	if fb := node.Find(view.KindFallback); len(fb) != 1 || len(fb[0].Find(view.KindCard)) != 1 {
		t.Fatalf("expected one fallback card, got %+v", node)
	}
	if selector.callCount() != 1 {
		t.Fatalf("expected one fallback selection, got %d", selector.callCount())
	}
}
