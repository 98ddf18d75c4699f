package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"github.com/Yoshiki785/realtime-translator/internal/config"
	"github.com/Yoshiki785/realtime-translator/internal/history"
	"github.com/Yoshiki785/realtime-translator/internal/ledger"
	"github.com/Yoshiki785/realtime-translator/internal/observability"
	"github.com/Yoshiki785/realtime-translator/internal/realtime"
	"github.com/Yoshiki785/realtime-translator/internal/resilience"
	"github.com/Yoshiki785/realtime-translator/internal/transcript"
)

// State is the connection lifecycle phase.
type State string

const (
	StateIdle             State = "idle"
	StateReserving        State = "reserving"
	StateNegotiatingToken State = "negotiating_token"
	StateNegotiatingSDP   State = "negotiating_sdp"
	StateListening        State = "listening"
)

// Guard violations surfaced by Start.
var (
	ErrStartInProgress = errors.New("a start sequence is already in flight")
	ErrNotIdle         = errors.New("session is not idle")
	ErrCooldownActive  = errors.New("start blocked by cooldown")
	ErrQuotaBlocked    = errors.New("start blocked by quota")
	ErrStartAborted    = errors.New("start aborted by stop")
)

// Ledger is the usage backend surface the controller needs.
type Ledger interface {
	Reserve(ctx context.Context) (*ledger.Job, error)
	Complete(ctx context.Context, seconds int)
	ElapsedSeconds() int
	SavePending()
	TryFinalizePending(ctx context.Context)
	Quota() ledger.Quota
	RefreshQuota(ctx context.Context) (ledger.Quota, error)
}

// TokenSource provides ephemeral realtime credentials.
type TokenSource interface {
	EphemeralToken(ctx context.Context, hints realtime.TokenHints) (string, error)
}

// TransportFactory builds a fresh transport for one connection attempt.
// Attempts never reuse a transport; teardown between retries is total.
type TransportFactory func(handler realtime.Handler) (realtime.Transport, error)

// Translator renders committed text and produces session summaries.
type Translator interface {
	Translate(ctx context.Context, text, inputLang, outputLang string) (string, error)
	Summarize(ctx context.Context, transcript, outputLang string) (string, error)
	Title(ctx context.Context, transcript string) string
}

// HistoryStore persists finished sessions.
type HistoryStore interface {
	Save(sess history.Session, lines []history.Line) error
}

// Notifier receives user-facing session updates. Implementations must not
// block; callbacks fire from controller goroutines.
type Notifier interface {
	OnState(state State)
	OnError(message string)
	OnLive(text string)
	OnLine(original, translation string)
	OnTakeover(activeSince string)
}

// Controller drives the session lifecycle: preflight gates, reservation,
// negotiation with retry, the listening phase, and teardown.
type Controller struct {
	cfg          *config.Config
	logger       zerolog.Logger
	ledger       Ledger
	tokens       TokenSource
	newTransport TransportFactory
	translator   Translator
	history      HistoryStore
	notifier     Notifier
	cooldown     *Cooldown
	now          func() time.Time

	mu            sync.Mutex
	state         State
	starting      bool
	run           *run
	lastReserveAt time.Time
}

// run is the per-session context: everything created by one Start and torn
// down by its Stop or disconnect.
type run struct {
	id        string
	startedAt time.Time
	assembler *transcript.Assembler
	transport realtime.Transport
	events    chan *realtime.ServerEvent

	jobsMu     sync.Mutex
	jobs       chan transcript.Line
	jobsClosed bool

	lines   []history.Line
	linesMu sync.Mutex

	cancel         context.CancelFunc
	wg             sync.WaitGroup
	debounced      func(func())
	disconnectOnce sync.Once
	transportMu    sync.Mutex
}

// ControllerOptions wires the controller's collaborators.
type ControllerOptions struct {
	Config       *config.Config
	Logger       *zerolog.Logger
	Ledger       Ledger
	Tokens       TokenSource
	NewTransport TransportFactory
	Translator   Translator
	History      HistoryStore
	Notifier     Notifier
	Now          func() time.Time
}

// NewController creates a session controller in the idle state.
func NewController(opts ControllerOptions) *Controller {
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Controller{
		cfg:          opts.Config,
		logger:       logger,
		ledger:       opts.Ledger,
		tokens:       opts.Tokens,
		newTransport: opts.NewTransport,
		translator:   opts.Translator,
		history:      opts.History,
		notifier:     notifier,
		cooldown:     NewCooldown(now),
		now:          now,
		state:        StateIdle,
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cooldown exposes the start cooldown, for status display.
func (c *Controller) Cooldown() *Cooldown {
	return c.cooldown
}

// Start runs the full connection sequence. A second Start while one is in
// flight or while not idle returns a guard error with no side effects.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrStartInProgress
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if err := c.preflight(ctx); err != nil {
		return err
	}

	r := c.newRun()
	c.mu.Lock()
	c.run = r
	c.mu.Unlock()

	if err := c.reserve(ctx, r); err != nil {
		if c.releaseRun(r) {
			c.teardownRun(r)
			c.setState(StateIdle)
		}
		return err
	}

	retryCfg := &resilience.RetryConfig{
		MaxRetries: c.cfg.MaxRetryCount,
		Backoff:    c.cfg.RetryBackoff(),
	}
	err := resilience.Retry(ctx,
		func(ctx context.Context, attempt int) error {
			return c.attempt(ctx, r)
		},
		retryCfg,
		func(err error) bool { return Classify(err).Retryable },
		func(attempt int, err error) {
			observability.RecordRetry()
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Negotiation failed, retrying")
			r.teardownTransport()
		},
	)
	if err != nil {
		ce := Classify(err)
		if !c.releaseRun(r) {
			// Stop won the race during negotiation and already completed
			// the job. Release whatever the last attempt created.
			r.teardownTransport()
			return ce
		}
		// Zero-bill the reserved job so a failed start never counts usage.
		c.ledger.Complete(ctx, 0)
		c.teardownRun(r)
		c.setState(StateIdle)
		observability.RecordSessionFailure(string(ce.Category))
		c.notifier.OnError(ce.Message)
		c.logger.Error().Err(err).Str("category", string(ce.Category)).Msg("Start sequence failed")
		return ce
	}

	// Stop may have taken the session while Connect was in flight. Only the
	// current run may transition to listening.
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		r.teardownTransport()
		c.logger.Info().Str("session_id", r.id).Msg("Start aborted, session stopped during negotiation")
		return ErrStartAborted
	}
	c.state = StateListening
	c.mu.Unlock()
	c.notifier.OnState(StateListening)
	observability.RecordSessionStart()
	c.startWorkers(r)
	c.logger.Info().Str("session_id", r.id).Msg("Session listening")
	return nil
}

// releaseRun clears the run pointer when it still belongs to r. A false
// return means Stop already took the session.
func (c *Controller) releaseRun(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return false
	}
	c.run = nil
	return true
}

// preflight checks the gates in order: cooldown, client throttle, quota.
func (c *Controller) preflight(ctx context.Context) error {
	if remaining := c.cooldown.Remaining(); remaining > 0 {
		msg := fmt.Sprintf("Please retry in %d seconds.", int(remaining.Seconds())+1)
		c.notifier.OnError(msg)
		return fmt.Errorf("%w: %s remaining", ErrCooldownActive, remaining.Round(time.Second))
	}

	c.mu.Lock()
	lastReserve := c.lastReserveAt
	c.mu.Unlock()
	if !lastReserve.IsZero() {
		if elapsed := c.now().Sub(lastReserve); elapsed < c.cfg.StartThrottle() {
			wait := c.cfg.StartThrottle() - elapsed
			c.cooldown.Start(wait)
			msg := fmt.Sprintf("Please retry in %d seconds.", int(wait.Seconds())+1)
			c.notifier.OnError(msg)
			return fmt.Errorf("%w: throttled for %s", ErrCooldownActive, wait.Round(time.Second))
		}
	}

	quota := c.ledger.Quota()
	if !quota.Loaded {
		quota, _ = c.ledger.RefreshQuota(ctx)
	}
	if reason := quota.StartBlockReason(); reason != "" {
		c.notifier.OnError(quotaBlockMessage(reason))
		return fmt.Errorf("%w: %s", ErrQuotaBlocked, reason)
	}
	return nil
}

// reserve performs the single reservation of the start sequence.
func (c *Controller) reserve(ctx context.Context, r *run) error {
	c.setState(StateReserving)
	c.mu.Lock()
	c.lastReserveAt = c.now()
	c.mu.Unlock()

	_, err := c.ledger.Reserve(ctx)
	if err == nil {
		return nil
	}

	var conflict *ledger.ConflictError
	if errors.As(err, &conflict) {
		c.notifier.OnTakeover(conflict.ActiveSince)
		return err
	}
	var rateLimit *ledger.RateLimitError
	if errors.As(err, &rateLimit) {
		wait := rateLimit.Wait
		if wait <= 0 {
			wait = c.cfg.RateLimitWait()
		}
		c.cooldown.Start(wait)
		ce := Classify(err)
		observability.RecordSessionFailure(string(ce.Category))
		c.notifier.OnError(ce.Message)
		return ce
	}
	var quotaErr *ledger.QuotaError
	if errors.As(err, &quotaErr) {
		c.notifier.OnError(quotaBlockMessage(quotaErr.Reason))
		return fmt.Errorf("%w: %s", ErrQuotaBlocked, quotaErr.Reason)
	}

	ce := Classify(err)
	observability.RecordSessionFailure(string(ce.Category))
	c.notifier.OnError(ce.Message)
	return ce
}

// attempt runs one negotiation: token, transport, SDP. The connection
// timeout bounds the whole attempt.
func (c *Controller) attempt(ctx context.Context, r *run) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout())
	defer cancel()

	c.setState(StateNegotiatingToken)
	token, err := c.tokens.EphemeralToken(actx, realtime.TokenHints{
		VADSilenceMs: c.cfg.VADSilenceMs,
		OutputLang:   c.cfg.OutputLang,
	})
	if err != nil {
		observability.RecordConnectionAttempt(false)
		return err
	}

	transport, err := c.newTransport(c.handler(r))
	if err != nil {
		observability.RecordConnectionAttempt(false)
		return err
	}
	r.setTransport(transport)

	c.setState(StateNegotiatingSDP)
	if err := transport.Connect(actx, token); err != nil {
		observability.RecordConnectionAttempt(false)
		return err
	}
	observability.RecordConnectionAttempt(true)
	return nil
}

func (c *Controller) newRun() *run {
	r := &run{
		id:        observability.NewSessionID(),
		startedAt: c.now(),
		events:    make(chan *realtime.ServerEvent, 256),
		jobs:      make(chan transcript.Line, 64),
		debounced: debounce.New(c.cfg.DisconnectDebounce()),
	}
	r.assembler = transcript.NewAssembler(
		c.cfg.GapInterval(),
		func(line transcript.Line) { c.onCommit(r, line) },
		transcript.WithLiveText(c.notifier.OnLive),
		transcript.WithLogger(c.logger),
	)
	return r
}

// handler builds the transport callbacks for this run.
func (c *Controller) handler(r *run) realtime.Handler {
	return realtime.Handler{
		OnEvent: func(ev *realtime.ServerEvent) {
			select {
			case r.events <- ev:
			default:
				c.logger.Warn().Str("type", ev.Kind()).Msg("Event queue full, dropping event")
			}
		},
		OnStateChange: func(state realtime.ConnState) {
			if state == realtime.ConnStateDisconnected || state == realtime.ConnStateFailed {
				c.signalDisconnect(r, "peer:"+string(state))
			}
		},
		OnChannelClose: func(reason string) {
			c.signalDisconnect(r, reason)
		},
	}
}

// signalDisconnect debounces transient connection flaps; only a signal
// that survives the debounce window is handled, and only once per session.
func (c *Controller) signalDisconnect(r *run, reason string) {
	if c.State() != StateListening {
		return
	}
	r.debounced(func() {
		r.disconnectOnce.Do(func() {
			c.handleDisconnect(r, reason)
		})
	})
}

func (c *Controller) handleDisconnect(r *run, reason string) {
	c.mu.Lock()
	if c.run != r || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Warn().Str("reason", reason).Str("session_id", r.id).Msg("Connection lost")
	c.notifier.OnError(categoryMessages[CategoryNetwork])

	// Keep the elapsed seconds for the online-recovery path instead of
	// billing through a dead connection.
	c.ledger.SavePending()

	c.teardownRun(r)
	c.mu.Lock()
	c.run = nil
	c.mu.Unlock()
	c.setState(StateIdle)
	observability.RecordSessionEnd(r.startedAt)
}

// HandleOnline reacts to connectivity recovery by finalizing any pending
// job completion.
func (c *Controller) HandleOnline(ctx context.Context) {
	c.ledger.TryFinalizePending(ctx)
}

// Stop tears the session down from any phase, completes the job with the
// elapsed seconds, and persists the session result.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	r := c.run
	c.run = nil
	c.mu.Unlock()

	if r == nil {
		c.setState(StateIdle)
		return
	}

	wasListening := c.State() == StateListening
	c.teardownRun(r)

	seconds := c.ledger.ElapsedSeconds()
	c.ledger.Complete(ctx, seconds)
	c.setState(StateIdle)
	if wasListening {
		observability.RecordSessionEnd(r.startedAt)
	}

	lines := r.snapshotLines()
	if len(lines) > 0 {
		c.persistResult(ctx, r, lines, seconds)
	}
	c.logger.Info().Str("session_id", r.id).Int("lines", len(lines)).Msg("Session stopped")
}

func (c *Controller) persistResult(ctx context.Context, r *run, lines []history.Line, seconds int) {
	originals := make([]string, 0, len(lines))
	for _, line := range lines {
		originals = append(originals, line.Original)
	}
	fullText := strings.Join(originals, "\n")

	summary, err := c.translator.Summarize(ctx, fullText, c.cfg.OutputLang)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Summary generation failed")
	}
	title := c.translator.Title(ctx, fullText)

	endedAt := c.now()
	sess := history.Session{
		ID:              r.id,
		Title:           title,
		StartedAt:       r.startedAt,
		EndedAt:         &endedAt,
		DurationSeconds: seconds,
		InputLang:       c.cfg.InputLang,
		OutputLang:      c.cfg.OutputLang,
		Summary:         summary,
	}
	if err := c.history.Save(sess, lines); err != nil {
		c.logger.Error().Err(err).Str("session_id", r.id).Msg("Failed to save session history")
	}
}

// startWorkers launches the event consumer and the sequential translation
// worker for the listening phase.
func (c *Controller) startWorkers(r *run) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.consumeEvents(ctx, r)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		c.translateLines(ctx, r)
	}()
}

func (c *Controller) consumeEvents(ctx context.Context, r *run) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			switch {
			case ev.Kind() == realtime.EventTypeDelta:
				r.assembler.OnDelta(ev.ItemID, ev.DeltaText())
			case ev.Kind() == realtime.EventTypeCompleted:
				r.assembler.OnCompleted(ev.ItemID, ev.FinalText())
			case ev.IsError():
				c.logger.Warn().
					Str("code", ev.ErrorCode()).
					Str("message", ev.ErrorMessage()).
					Msg("Realtime error event")
			}
		}
	}
}

// onCommit is the assembler sink: it queues the committed line for
// translation, preserving commit order.
func (c *Controller) onCommit(r *run, line transcript.Line) {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()
	if r.jobsClosed {
		return
	}
	select {
	case r.jobs <- line:
	default:
		c.logger.Warn().Msg("Translation queue full, dropping line")
	}
}

// translateLines translates committed lines one at a time, in order.
func (c *Controller) translateLines(ctx context.Context, r *run) {
	for {
		select {
		case <-ctx.Done():
			// Keep queued originals even when shutdown preempts their
			// translation.
			for {
				select {
				case line := <-r.jobs:
					r.appendLine(history.Line{
						Original:    line.Text,
						Trigger:     string(line.Trigger),
						CommittedAt: line.At,
					})
				default:
					return
				}
			}
		case line := <-r.jobs:
			translation, err := c.translator.Translate(ctx, line.Text, c.cfg.InputLang, c.cfg.OutputLang)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Translation failed")
			}
			r.appendLine(history.Line{
				Original:    line.Text,
				Translation: translation,
				Trigger:     string(line.Trigger),
				CommittedAt: line.At,
			})
			c.notifier.OnLine(line.Text, translation)
		}
	}
}

// teardownRun releases everything the run holds: gap timer, workers, and
// the transport.
func (c *Controller) teardownRun(r *run) {
	r.assembler.Stop()
	r.closeJobs()
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
	r.teardownTransport()
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notifier.OnState(state)
}

func quotaBlockMessage(reason string) string {
	switch reason {
	case ledger.BlockedMonthlyExhausted:
		return "No usage time remaining this month."
	case ledger.BlockedDailyLimit:
		return "Daily usage limit reached on the free plan."
	case ledger.BlockedDailyJobLimit:
		return "Daily session limit reached on the free plan."
	case "quota_not_loaded":
		return "Could not verify remaining usage. Please try again shortly."
	}
	return "Usage is currently blocked."
}

func (r *run) setTransport(t realtime.Transport) {
	r.transportMu.Lock()
	r.transport = t
	r.transportMu.Unlock()
}

func (r *run) teardownTransport() {
	r.transportMu.Lock()
	t := r.transport
	r.transport = nil
	r.transportMu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

func (r *run) closeJobs() {
	r.jobsMu.Lock()
	r.jobsClosed = true
	r.jobsMu.Unlock()
}

func (r *run) appendLine(line history.Line) {
	r.linesMu.Lock()
	r.lines = append(r.lines, line)
	r.linesMu.Unlock()
}

func (r *run) snapshotLines() []history.Line {
	r.linesMu.Lock()
	defer r.linesMu.Unlock()
	lines := make([]history.Line, len(r.lines))
	copy(lines, r.lines)
	return lines
}

type nopNotifier struct{}

func (nopNotifier) OnState(State)         {}
func (nopNotifier) OnError(string)        {}
func (nopNotifier) OnLive(string)         {}
func (nopNotifier) OnLine(string, string) {}
func (nopNotifier) OnTakeover(string)     {}
