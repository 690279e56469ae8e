package app

import (
	"context"
	"errors"
	"log"
	"time"

	"trivia-duel-service/internal/domain"
)

// Runner drives one player's participation in a duel. There is no
// central game loop: every connected client reacts to store snapshots
// and to its own wall-clock ticker, and the host's runner additionally
// carries the progression mutations (score, sweep, advance). All of
// those re-check their preconditions inside a transaction, so two
// runners racing on the same observation stay harmless.
type Runner struct {
	svc      *DuelService
	code     string
	playerID string

	// onState receives every document snapshot, including the initial
	// one. Called from the runner goroutine.
	onState func(*domain.GameSession)

	// pendingKey/advanceAt track the scheduled advance for the question
	// the host last saw resolved.
	pendingKey   string
	advanceAt    time.Time
	fromRound    int
	fromQuestion int
}

// NewRunner prepares a runner for the given player. Run must be called
// to start it.
func (s *DuelService) NewRunner(code, playerID string, onState func(*domain.GameSession)) *Runner {
	return &Runner{svc: s, code: code, playerID: playerID, onState: onState}
}

// Run blocks until the context ends or the subscription closes. A
// closed subscription maps to domain.ErrConnectionLost: this client's
// participation is over, the shared document stays for the opponent.
func (r *Runner) Run(ctx context.Context) error {
	snapshots, cancel, err := r.svc.store.Subscribe(ctx, r.code)
	if err != nil {
		return err
	}
	defer cancel()

	ticker := time.NewTicker(r.svc.cfg.TickInterval)
	defer ticker.Stop()

	var latest *domain.GameSession
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case game, ok := <-snapshots:
			if !ok {
				return domain.ErrConnectionLost
			}
			latest = game
			if r.onState != nil {
				r.onState(game)
			}
			r.evaluate(ctx, game)
		case <-ticker.C:
			r.evaluate(ctx, latest)
		}
	}
}

// evaluate is a pure function of the latest snapshot plus the local
// clock; it is safe to call from both the snapshot and the ticker arm.
func (r *Runner) evaluate(ctx context.Context, g *domain.GameSession) {
	if g == nil {
		return
	}

	if g.Status == domain.StatusOngoing && len(g.PlayerIDs) < 2 {
		if err := r.svc.MarkAbandoned(ctx, r.code, r.playerID); err != nil {
			log.Printf("duel %s: mark abandoned: %v", r.code, err)
		}
		return
	}
	if g.Status != domain.StatusOngoing || g.QuestionStartTime == 0 {
		r.pendingKey = ""
		return
	}

	cfg := r.svc.cfg
	now := r.svc.now()
	elapsed := now.UnixMilli() - g.QuestionStartTime
	deadline := cfg.QuestionTime.Milliseconds()
	answers := g.CurrentAnswers()

	// Local timeout: force a blank answer for ourselves. A blank never
	// equals a correct answer, so it scores as wrong.
	if elapsed >= deadline && (answers == nil || answers[r.playerID] == nil) {
		err := r.svc.SubmitAnswer(ctx, r.code, r.playerID, "")
		if err != nil && !errors.Is(err, domain.ErrAlreadyAnswered) {
			log.Printf("duel %s: timeout answer: %v", r.code, err)
		}
	}

	if g.HostID() != r.playerID {
		return
	}

	allAnswered := g.AllAnswered()

	// Host sweep: the opponent may have vanished without running its
	// own timeout logic; fill the gap so the question still resolves.
	if !allAnswered && elapsed >= deadline+cfg.SweepGrace.Milliseconds() {
		if err := r.svc.SweepTimeouts(ctx, r.code, r.playerID); err != nil {
			log.Printf("duel %s: sweep: %v", r.code, err)
		}
		return
	}

	if allAnswered && anyUnapplied(g) {
		if err := r.svc.ApplyScores(ctx, r.code, r.playerID); err != nil {
			log.Printf("duel %s: apply scores: %v", r.code, err)
		}
	}

	resolved := allAnswered || elapsed >= deadline
	if !resolved {
		r.pendingKey = ""
		return
	}

	key := g.AnswerKey()
	if r.pendingKey != key {
		r.pendingKey = key
		r.advanceAt = now.Add(cfg.AdvanceDelay)
		r.fromRound = g.CurrentRound
		r.fromQuestion = g.CurrentQuestionIndex
		return
	}
	if now.Before(r.advanceAt) {
		return
	}
	if err := r.svc.Advance(ctx, r.code, r.playerID, r.fromRound, r.fromQuestion); err != nil {
		log.Printf("duel %s: advance: %v", r.code, err)
	}
}

func anyUnapplied(g *domain.GameSession) bool {
	answers := g.CurrentAnswers()
	for _, id := range g.PlayerIDs {
		if entry, ok := answers[id]; ok && !entry.ScoreApplied {
			return true
		}
	}
	return false
}
