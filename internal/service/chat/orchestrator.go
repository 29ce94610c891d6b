package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	chatmodel "github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
	"go.uber.org/zap"
)

const defaultCommitTimeout = 10 * time.Second

// Options tunes the exchange engine.
type Options struct {
	// DuplicateWindow bounds the duplicate user turn guard; zero uses the store default.
	DuplicateWindow time.Duration
	// CommitTimeout bounds saves that outlive the client connection.
	CommitTimeout time.Duration
	// StreamTimeout caps a whole streamed reply; zero disables it.
	StreamTimeout time.Duration
}

// Orchestrator turns one user utterance into a streamed, persisted reply.
type Orchestrator struct {
	resolver  *Resolver
	store     history.Store
	responder ai.Responder
	titles    *TitleDeriver
	opts      Options
	logger    *zap.Logger
}

func NewOrchestrator(store history.Store, responder ai.Responder, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	return &Orchestrator{
		resolver:  NewResolver(store),
		store:     store,
		responder: responder,
		titles:    NewTitleDeriver(store, responder, logger),
		opts:      opts,
		logger:    logger,
	}
}

// StreamRequest is one text turn from an authenticated owner.
type StreamRequest struct {
	OwnerID   string
	SessionID string
	Content   string
}

// Outcome summarizes a finished exchange.
type Outcome struct {
	SessionID string
	State     State
	// Response is the assistant text that was persisted, if any.
	Response  string
	Title     string
	Fragments int
	Err       error
}

type streamResult struct {
	full string
	err  error
}

// Stream runs one exchange, pushing events to sink until a terminal state is
// reached. Cancelling ctx is treated as the client disconnecting.
//
// An error is returned only when the exchange could not start; nothing has been
// sent to sink in that case. Later failures are reported to sink as an error
// event and recorded in the Outcome.
func (o *Orchestrator) Stream(ctx context.Context, req StreamRequest, sink Sink) (Outcome, error) {
	if req.OwnerID == "" {
		return Outcome{State: StateIdle}, chatmodel.ErrUnauthorized
	}
	if strings.TrimSpace(req.Content) == "" {
		return Outcome{State: StateIdle}, chatmodel.ErrEmptyMessage
	}

	start := time.Now()
	session, err := o.resolver.Resolve(ctx, req.SessionID, req.OwnerID, chatmodel.DefaultTextTitle)
	if err != nil {
		return Outcome{State: StateIdle}, err
	}

	log := o.logger.With(zap.String("session", session.ID), zap.String("owner", req.OwnerID))
	log.Debug("history loaded", zap.Int("turns", len(session.Turns)), zap.Stringer("state", StateHistoryLoaded))
	msgs := buildHistory(session.Turns, req.Content)

	connCtx, disconnect := context.WithCancel(ctx)
	defer disconnect()

	streamCtx, stopStream := connCtx, context.CancelFunc(func() {})
	if o.opts.StreamTimeout > 0 {
		streamCtx, stopStream = context.WithTimeout(connCtx, o.opts.StreamTimeout)
	}
	defer stopStream()

	ex := &exchange{sink: sink, disconnect: disconnect}
	results := make(chan streamResult, 1)
	var once sync.Once
	report := func(res streamResult) {
		once.Do(func() { results <- res })
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		o.responder.StreamComplete(streamCtx, msgs, ai.StreamHandler{
			OnFragment: ex.forward,
			OnDone:     func(full string) { report(streamResult{full: full}) },
			OnError:    func(err error) { report(streamResult{err: err}) },
		})
	}()

	res, ok := awaitResult(streamCtx, results, finished)

	var out Outcome
	switch {
	case ok && res.err == nil:
		ex.seal()
		<-finished
		out = o.complete(ctx, req, session, ex, res.full)
	case ok:
		ex.seal()
		<-finished
		out = o.fail(ex, res.err)
	case connCtx.Err() != nil:
		out = o.cancel(ctx, req, session.ID, ex)
		<-finished
	case streamCtx.Err() != nil:
		ex.seal()
		<-finished
		out = o.fail(ex, fmt.Errorf("%w: stream timed out after %s", chatmodel.ErrProvider, o.opts.StreamTimeout))
	default:
		ex.seal()
		<-finished
		out = o.fail(ex, fmt.Errorf("%w: stream ended without a result", chatmodel.ErrProvider))
	}
	out.SessionID = session.ID
	out.Fragments = ex.count()

	fields := []zap.Field{
		zap.Stringer("state", out.State),
		zap.Int("fragments", out.Fragments),
		zap.Duration("elapsed", time.Since(start)),
	}
	if out.State == StateFailed {
		log.Warn("exchange finished", append(fields, zap.Error(out.Err))...)
	} else {
		log.Info("exchange finished", fields...)
	}
	return out, nil
}

func awaitResult(ctx context.Context, results <-chan streamResult, finished <-chan struct{}) (streamResult, bool) {
	select {
	case res := <-results:
		return res, true
	case <-ctx.Done():
		return streamResult{}, false
	case <-finished:
		select {
		case res := <-results:
			return res, true
		default:
			return streamResult{}, false
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, req StreamRequest, session *chatmodel.Session, ex *exchange, full string) Outcome {
	commitCtx, cancel := o.commitContext(ctx)
	defer cancel()

	saved, err := o.store.CommitExchange(commitCtx, session.ID, req.OwnerID, o.exchangeFor(req.Content, full))
	if err != nil {
		return o.fail(ex, err)
	}

	out := Outcome{State: StateCompleted, Response: full}
	if needsTitle(saved, chatmodel.DefaultTextTitle) {
		if title, changed := o.titles.DeriveAndApply(commitCtx, saved, req.Content); changed {
			out.Title = title
			ex.send(Event{Title: title})
		}
	}
	ex.send(Event{Done: true, SessionID: session.ID})
	return out
}

// cancel stops forwarding and saves whatever text the client already received.
func (o *Orchestrator) cancel(ctx context.Context, req StreamRequest, sessionID string, ex *exchange) Outcome {
	partial := ex.seal()
	ex.disconnect()

	out := Outcome{State: StateCancelled}
	if partial == "" {
		return out
	}

	commitCtx, cancel := o.commitContext(ctx)
	defer cancel()

	if _, err := o.store.CommitExchange(commitCtx, sessionID, req.OwnerID, o.exchangeFor(req.Content, partial)); err != nil {
		out.Err = err
		o.logger.Warn("saving partial reply failed", zap.String("session", sessionID), zap.Error(err))
		return out
	}
	out.Response = partial
	return out
}

func (o *Orchestrator) fail(ex *exchange, err error) Outcome {
	if err == nil {
		err = errors.New("unknown failure")
	}
	ex.send(Event{Error: chatmodel.Reason(err)})
	return Outcome{State: StateFailed, Err: err}
}

func (o *Orchestrator) exchangeFor(userContent, assistantContent string) history.Exchange {
	return history.Exchange{
		UserContent:      userContent,
		AssistantContent: assistantContent,
		DuplicateWindow:  o.opts.DuplicateWindow,
	}
}

// commitContext outlives the client connection so a disconnect cannot abort a save.
func (o *Orchestrator) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.CommitTimeout)
}

// exchange is the state shared between the orchestrator and the responder goroutine.
type exchange struct {
	mu         sync.Mutex
	sealed     bool
	acc        strings.Builder
	fragments  int
	sink       Sink
	sinkErr    error
	disconnect context.CancelFunc
}

// forward pushes a fragment to the client and records it once delivered, so
// the accumulated text is exactly what the client has seen. Fragments arriving
// after the exchange is sealed or the client is gone are dropped.
func (e *exchange) forward(fragment string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sealed || e.sinkErr != nil {
		return
	}
	if err := e.sink.Send(Event{Token: fragment}); err != nil {
		e.sinkErr = err
		e.disconnect()
		return
	}
	e.acc.WriteString(fragment)
	e.fragments++
}

// seal stops forwarding and returns the text accumulated so far.
func (e *exchange) seal() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
	return e.acc.String()
}

func (e *exchange) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fragments
}

// send delivers a control event once the responder has stopped.
func (e *exchange) send(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sinkErr != nil {
		return
	}
	if err := e.sink.Send(ev); err != nil {
		e.sinkErr = err
	}
}
