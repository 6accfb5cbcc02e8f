package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"charsearch/internal/app/fallback"
	"charsearch/internal/domain/character"
	"charsearch/internal/domain/view"
	"charsearch/internal/platform/mq"
	"charsearch/internal/platform/observability"
)

type CharacterLister interface {
	ListCharacters(ctx context.Context, nameFilter string) ([]character.Character, error)
}

type FallbackSelector interface {
	Strategy() fallback.Strategy
	Select(ctx context.Context, known []character.Character) fallback.Outcome
}

// Frame is one render pass delivered to a subscriber.
type Frame struct {
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Term       string    `json:"term"`
	View       view.Node `json:"view"`
}

// Subscriber receives render passes. Frames holds at most one frame: a
// newer render replaces an unread older one.
type Subscriber struct {
	Frames chan Frame
}

type Options struct {
	Debounce time.Duration
	Metrics  *observability.Metrics
	Pub      mq.Publisher
}

type listResult struct {
	gen   uint64
	term  string
	chars []character.Character
	err   error
}

type fallbackResult struct {
	gen     uint64
	outcome fallback.Outcome
}

// loopState is owned by the run goroutine.
type loopState struct {
	want     string
	term     string
	gen      uint64
	status   Status
	err      error
	chars    []character.Character
	fallback *fallback.Outcome

	// unfiltered is the last successful result for the empty term, nil
	// until one arrives.
	unfiltered []character.Character
}

// View is a search session: it owns the search term and the latest fetch
// outcome, and re-renders on every change. Only the most recently issued
// fetch may update the outcome.
type View struct {
	id       string
	logger   zerolog.Logger
	source   CharacterLister
	selector FallbackSelector
	pub      mq.Publisher
	metrics  *observability.Metrics
	debounce time.Duration

	terms     chan string
	results   chan listResult
	fallbacks chan fallbackResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[*Subscriber]struct{}
	started bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
}

func NewView(logger zerolog.Logger, source CharacterLister, selector FallbackSelector, opts Options) *View {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		id:        id,
		logger:    logger.With().Str("session_id", id).Logger(),
		source:    source,
		selector:  selector,
		pub:       opts.Pub,
		metrics:   opts.Metrics,
		debounce:  opts.Debounce,
		terms:     make(chan string, 16),
		results:   make(chan listResult),
		fallbacks: make(chan fallbackResult),
		ctx:       ctx,
		cancel:    cancel,
		snap:      Snapshot{SessionID: id, Status: StatusPending},
		subs:      make(map[*Subscriber]struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (v *View) ID() string {
	return v.id
}

// Start issues the initial unfiltered query and begins the event loop.
func (v *View) Start() {
	v.mu.Lock()
	if v.started || v.stopped {
		v.mu.Unlock()
		return
	}
	v.started = true
	v.mu.Unlock()

	v.metrics.SessionStarted()
	go v.run()
}

// Stop ends the loop, cancels in-flight fetches and closes every
// subscriber channel. It blocks until all session goroutines have exited.
func (v *View) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	started := v.started
	close(v.quit)
	v.mu.Unlock()

	v.cancel()
	if started {
		<-v.done
		v.metrics.SessionEnded()
	}
	v.wg.Wait()

	v.mu.Lock()
	for s := range v.subs {
		close(s.Frames)
	}
	v.subs = map[*Subscriber]struct{}{}
	v.mu.Unlock()
}

// SetTerm replaces the search term. Surrounding whitespace is ignored and
// repeating the current term is a no-op.
func (v *View) SetTerm(term string) {
	term = strings.TrimSpace(term)
	select {
	case v.terms <- term:
	case <-v.quit:
	}
}

// Subscribe registers s for render passes and hands it the current render.
func (v *View) Subscribe() *Subscriber {
	s := &Subscriber{Frames: make(chan Frame, 1)}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		close(s.Frames)
		return s
	}
	v.subs[s] = struct{}{}
	deliver(s.Frames, v.frameLocked())
	return s
}

func (v *View) Unsubscribe(s *Subscriber) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.subs[s]; !ok {
		return
	}
	delete(v.subs, s)
	close(s.Frames)
}

// Snapshot returns the state the last render pass read.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

func (v *View) run() {
	defer close(v.done)

	var (
		st        loopState
		timer     *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	v.issue(&st, "")
	for {
		select {
		case term := <-v.terms:
			if term == st.want {
				continue
			}
			st.want = term
			if v.debounce <= 0 {
				v.issue(&st, term)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(v.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(v.debounce)
			}
			debounceC = timer.C
		case <-debounceC:
			debounceC = nil
			if st.want != st.term {
				v.issue(&st, st.want)
			}
		case res := <-v.results:
			v.applyList(&st, res)
		case res := <-v.fallbacks:
			if res.gen != st.gen {
				continue
			}
			out := res.outcome
			st.fallback = &out
			v.publishEvent("fallback.selected", fallbackEvent(v.id, st.gen, out))
			v.render(&st)
		case <-v.quit:
			return
		}
	}
}

func (v *View) issue(st *loopState, term string) {
	st.gen++
	st.term = term
	st.status = StatusPending
	st.err = nil
	st.chars = nil
	st.fallback = nil

	gen := st.gen
	v.metrics.SearchIssued()
	v.logger.Debug().Str("term", term).Uint64("generation", gen).Msg("list query issued")
	v.publishEvent("search.issued", map[string]any{"session_id": v.id, "generation": gen, "term": term})
	v.render(st)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		chars, err := v.source.ListCharacters(v.ctx, term)
		select {
		case v.results <- listResult{gen: gen, term: term, chars: chars, err: err}:
		case <-v.quit:
		}
	}()
}

func (v *View) applyList(st *loopState, res listResult) {
	if res.err == nil && res.term == "" {
		st.unfiltered = res.chars
		if st.unfiltered == nil {
			st.unfiltered = []character.Character{}
		}
	}
	if res.gen != st.gen {
		v.logger.Debug().Uint64("generation", res.gen).Uint64("current", st.gen).Msg("stale list result dropped")
		return
	}
	if res.err != nil {
		st.status = StatusFailed
		st.err = res.err
		v.logger.Warn().Err(res.err).Str("term", res.term).Msg("list query failed")
		v.publishEvent("search.settled", map[string]any{"session_id": v.id, "generation": st.gen, "status": StatusFailed})
		v.render(st)
		return
	}
	st.status = StatusSucceeded
	st.chars = res.chars
	v.publishEvent("search.settled", map[string]any{"session_id": v.id, "generation": st.gen, "status": StatusSucceeded, "count": len(res.chars)})
	if len(res.chars) == 0 {
		st.fallback = &fallback.Outcome{Strategy: v.selector.Strategy(), Status: fallback.StatusPending}
		v.selectFallback(st.gen, st.unfiltered)
	}
	v.render(st)
}

func (v *View) selectFallback(gen uint64, known []character.Character) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		out := v.selector.Select(v.ctx, known)
		select {
		case v.fallbacks <- fallbackResult{gen: gen, outcome: out}:
		case <-v.quit:
		}
	}()
}

// render publishes a snapshot of st and schedules delivery of its render
// pass to every subscriber.
func (v *View) render(st *loopState) {
	snap := Snapshot{
		SessionID:  v.id,
		Term:       st.term,
		Generation: st.gen,
		Status:     st.status,
		Err:        st.err,
		Characters: st.chars,
		Fallback:   st.fallback,
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = snap
	f := v.frameLocked()
	for s := range v.subs {
		deliver(s.Frames, f)
	}
}

func (v *View) frameLocked() Frame {
	return Frame{SessionID: v.id, Generation: v.snap.Generation, Term: v.snap.Term, View: Render(v.snap)}
}

func (v *View) publishEvent(subject string, payload any) {
	if err := mq.PublishJSON(v.ctx, v.pub, subject, payload); err != nil {
		v.logger.Debug().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

func fallbackEvent(sessionID string, gen uint64, out fallback.Outcome) map[string]any {
	evt := map[string]any{
		"session_id": sessionID,
		"generation": gen,
		"strategy":   out.Strategy,
		"status":     out.Status,
	}
	if out.Character != nil {
		evt["character_id"] = out.Character.ID
	}
	return evt
}

// deliver replaces any unread frame in ch with f. Callers hold v.mu, so
// ch has a single sender.
func deliver(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Resolve runs one search to completion without a session: the list query
// for term and, on an empty result, one fallback selection.
func Resolve(ctx context.Context, source CharacterLister, selector FallbackSelector, term string) Snapshot {
	snap := Snapshot{Term: term, Generation: 1, Status: StatusPending}
	chars, err := source.ListCharacters(ctx, term)
	if err != nil {
		snap.Status = StatusFailed
		snap.Err = err
		return snap
	}
	snap.Status = StatusSucceeded
	snap.Characters = chars
	if len(chars) == 0 {
		out := selector.Select(ctx, nil)
		snap.Fallback = &out
	}
	return snap
}
