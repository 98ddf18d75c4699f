package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Yoshiki785/realtime-translator/internal/observability"
)

// DefaultUtteranceID is the sentinel key used when the upstream event
// carries no utterance identifier.
const DefaultUtteranceID = "default"

// CommitTrigger identifies what finalized a transcript line.
type CommitTrigger string

const (
	TriggerCompleted  CommitTrigger = "completed"
	TriggerGapTimeout CommitTrigger = "gap_timeout"
)

// Line is one finalized transcript entry.
type Line struct {
	UtteranceID string
	Text        string
	Trigger     CommitTrigger
	At          time.Time
}

// Sink receives finalized lines. Called synchronously under the assembler's
// lock, so implementations should hand off quickly.
type Sink func(Line)

// Assembler accumulates streaming transcription deltas per utterance and
// decides when buffered text becomes a finalized line: on an explicit
// completion event, or when the silence-gap timer fires with no further
// deltas. Committed utterance ids are remembered for the lifetime of one
// connection so a late completion racing a gap-timeout commit cannot emit
// the same utterance twice.
type Assembler struct {
	mu sync.Mutex

	gap    time.Duration
	sink   Sink
	onLive func(string)
	logger zerolog.Logger

	partial   map[string]string
	committed map[string]struct{}
	activeID  string
	live      string

	gapTimer *time.Timer
	// generation invalidates gap timers armed before a reset or re-arm.
	generation uint64
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLiveText registers a callback for live (uncommitted) text updates.
func WithLiveText(fn func(string)) Option {
	return func(a *Assembler) { a.onLive = fn }
}

// WithLogger sets the assembler's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// NewAssembler creates an assembler committing to sink, with the given
// silence-gap interval.
func NewAssembler(gap time.Duration, sink Sink, opts ...Option) *Assembler {
	a := &Assembler{
		gap:       gap,
		sink:      sink,
		logger:    observability.GetLogger(),
		partial:   make(map[string]string),
		committed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reset clears all per-connection state: partial buffers, the committed-id
// set, the active pointer and any armed gap timer. Called at the start of
// each new connection attempt.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopGapTimerLocked()
	a.partial = make(map[string]string)
	a.committed = make(map[string]struct{})
	a.activeID = ""
	a.setLiveLocked("")
}

// Stop cancels any armed gap timer without clearing buffers.
func (a *Assembler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopGapTimerLocked()
}

// OnDelta appends delta text to the utterance's buffer, makes it the active
// utterance, updates the live display text and re-arms the gap timer.
func (a *Assembler) OnDelta(utteranceID, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.resolveIDLocked(utteranceID)
	updated := a.partial[id] + delta
	a.partial[id] = updated
	a.activeID = id
	a.setLiveLocked(updated)
	a.armGapTimerLocked()
}

// OnCompleted finalizes an utterance. Explicit final text takes precedence
// over the buffer. Already-committed ids are dropped apart from buffer
// cleanup; empty candidates are discarded without being marked committed.
func (a *Assembler) OnCompleted(utteranceID, finalText string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.resolveIDLocked(utteranceID)

	text := finalText
	if text == "" {
		text = a.partial[id]
	}

	if strings.TrimSpace(text) == "" {
		delete(a.partial, id)
		return
	}

	if _, done := a.committed[id]; done {
		a.logger.Debug().Str("utterance_id", id).Msg("Duplicate completion dropped")
		observability.RecordDuplicateDropped()
		delete(a.partial, id)
		if a.activeID == id {
			a.activeID = ""
			a.setLiveLocked("")
		}
		return
	}

	a.commitLocked(text, id, TriggerCompleted)
	delete(a.partial, id)
	if a.activeID == id {
		a.activeID = ""
		a.setLiveLocked("")
	}
	a.stopGapTimerLocked()
}

// Live returns the current uncommitted display text.
func (a *Assembler) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// resolveIDLocked falls back to the active pointer, then the sentinel id,
// when the event omits an identifier.
func (a *Assembler) resolveIDLocked(utteranceID string) string {
	if utteranceID != "" {
		return utteranceID
	}
	if a.activeID != "" {
		return a.activeID
	}
	return DefaultUtteranceID
}

// commitActiveOnGap finalizes the active utterance after a silence gap.
// Streams that never send explicit completion events still produce lines.
func (a *Assembler) commitActiveOnGap(generation uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if generation != a.generation {
		// A newer delta re-armed the timer, or the session was reset.
		return
	}

	id := a.activeID
	text := ""
	if id != "" {
		text = a.partial[id]
	}
	if text == "" {
		text = a.live
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	a.commitLocked(text, id, TriggerGapTimeout)
	if id != "" {
		delete(a.partial, id)
	}
	a.activeID = ""
	a.setLiveLocked("")
}

func (a *Assembler) commitLocked(text, id string, trigger CommitTrigger) {
	if id != "" {
		a.committed[id] = struct{}{}
	}
	observability.RecordCommit(string(trigger))
	a.logger.Debug().
		Str("utterance_id", id).
		Str("trigger", string(trigger)).
		Int("chars", len(text)).
		Msg("Utterance committed")
	if a.sink != nil {
		a.sink(Line{UtteranceID: id, Text: text, Trigger: trigger, At: time.Now()})
	}
}

func (a *Assembler) armGapTimerLocked() {
	a.stopGapTimerLocked()
	if a.gap <= 0 {
		return
	}
	gen := a.generation
	a.gapTimer = time.AfterFunc(a.gap, func() {
		a.commitActiveOnGap(gen)
	})
}

func (a *Assembler) stopGapTimerLocked() {
	a.generation++
	if a.gapTimer != nil {
		a.gapTimer.Stop()
		a.gapTimer = nil
	}
}

func (a *Assembler) setLiveLocked(text string) {
	a.live = text
	if a.onLive != nil {
		a.onLive(text)
	}
}
