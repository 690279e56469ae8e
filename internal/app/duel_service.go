package app

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"trivia-duel-service/internal/domain"
)

// GameStore is the shared-document authority every duel mutation goes
// through. Implementations must make Transact an atomic re-read,
// mutate, commit cycle with optimistic retry on conflicting writers.
type GameStore interface {
	// Create stores a new session document, failing with
	// domain.ErrRoomExists if the code is already taken.
	Create(ctx context.Context, code string, game *domain.GameSession) error

	// Get returns a snapshot of the current document.
	Get(ctx context.Context, code string) (*domain.GameSession, error)

	// Transact re-reads the document, applies mutate and commits the
	// result atomically. Returning an error from mutate aborts without
	// writing. The mutate function must be free of side effects; it may
	// run more than once under retry.
	Transact(ctx context.Context, code string, mutate func(*domain.GameSession) error) (*domain.GameSession, error)

	// Delete removes the document and ends all subscriptions to it.
	Delete(ctx context.Context, code string) error

	// Subscribe delivers the current document immediately and then every
	// committed state in commit order. The cancel function releases the
	// subscription.
	Subscribe(ctx context.Context, code string) (<-chan *domain.GameSession, func(), error)
}

// QuestionSource hands out unique question records for a category,
// excluding ids that were already served. Returning fewer than count is
// not an error; the caller decides whether that is sufficient.
type QuestionSource interface {
	Fetch(ctx context.Context, category string, exclude map[string]struct{}, count int) ([]domain.QuestionRecord, error)
}

// DuelConfig carries the timing and sizing knobs of a duel.
type DuelConfig struct {
	QuestionTime      time.Duration
	RoundsPerDuel     int
	QuestionsPerRound int
	// AdvanceDelay is how long the host lingers on a resolved question
	// before moving on, so both players see the outcome.
	AdvanceDelay time.Duration
	// SweepGrace is added to the deadline before the host fills in
	// missing answers on an absent opponent's behalf.
	SweepGrace time.Duration
	// TickInterval is the local wall-clock check cadence.
	TickInterval time.Duration
}

func (c DuelConfig) withDefaults() DuelConfig {
	if c.QuestionTime <= 0 {
		c.QuestionTime = 15 * time.Second
	}
	if c.RoundsPerDuel <= 0 {
		c.RoundsPerDuel = 5
	}
	if c.QuestionsPerRound <= 0 {
		c.QuestionsPerRound = 3
	}
	if c.AdvanceDelay <= 0 {
		c.AdvanceDelay = 2 * time.Second
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = 500 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	return c
}

// errUnchanged aborts a Transact without treating it as a failure: the
// precondition re-checked against fresh state no longer holds, so there
// is nothing to write.
var errUnchanged = errors.New("no change")

// DuelService owns the PvP use cases: room lifecycle, game start,
// answer collection, exactly-once scoring, pointer advancement, timeout
// sweeps and the play-again reset.
type DuelService struct {
	store     GameStore
	questions QuestionSource
	cfg       DuelConfig
	now       func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewDuelService(store GameStore, questions QuestionSource, cfg DuelConfig) *DuelService {
	return &DuelService{
		store:     store,
		questions: questions,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Config exposes the effective duel configuration.
func (s *DuelService) Config() DuelConfig {
	return s.cfg
}

// Room codes avoid ambiguous characters so they survive being read out
// loud or typed from another screen.
const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	createAttempts   = 5
)

func newRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
			continue
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// CreateRoom opens a waiting session with the creator as host. The code
// is re-rolled on collision instead of silently overwriting an existing
// room.
func (s *DuelService) CreateRoom(ctx context.Context, hostID, hostName string) (string, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		code := newRoomCode()
		game := &domain.GameSession{
			Code:   code,
			Status: domain.StatusWaiting,
			Players: map[string]*domain.Player{
				hostID: {ID: hostID, Name: hostName},
			},
			PlayerIDs: []string{hostID},
			Answers:   map[string]map[string]*domain.Answer{},
			CreatedAt: s.now(),
		}
		err := s.store.Create(ctx, code, game)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, domain.ErrRoomExists) {
			continue
		}
		return "", fmt.Errorf("%w: %v", domain.ErrRoomCreate, err)
	}
	return "", domain.ErrRoomCreate
}

// JoinRoom admits a second player. The existence, status, capacity and
// self-join checks all run inside one transaction so two concurrent
// joiners cannot both win the last slot.
func (s *DuelService) JoinRoom(ctx context.Context, code, playerID, playerName string) (*domain.GameSession, error) {
	game, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.Status != domain.StatusWaiting {
			return domain.ErrRoomUnavailable
		}
		if g.HasPlayer(playerID) || len(g.PlayerIDs) >= 2 {
			return domain.ErrJoinRejected
		}
		g.PlayerIDs = append(g.PlayerIDs, playerID)
		g.Players[playerID] = &domain.Player{ID: playerID, Name: playerName}
		return nil
	})
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil, domain.ErrRoomUnavailable
	}
	return game, err
}

// LeaveRoom handles voluntary exit. A lone host tears the room down, a
// waiting guest frees their slot, and leaving mid-game forfeits to the
// opponent.
func (s *DuelService) LeaveRoom(ctx context.Context, code, playerID string) error {
	game, err := s.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if !game.HasPlayer(playerID) {
		return nil
	}

	switch game.Status {
	case domain.StatusWaiting:
		game, err = s.store.Transact(ctx, code, func(g *domain.GameSession) error {
			if g.Status != domain.StatusWaiting || !g.HasPlayer(playerID) {
				return errUnchanged
			}
			ids := g.PlayerIDs[:0]
			for _, id := range g.PlayerIDs {
				if id != playerID {
					ids = append(ids, id)
				}
			}
			g.PlayerIDs = ids
			delete(g.Players, playerID)
			if len(g.PlayerIDs) == 0 {
				// Close the join window before the document is removed:
				// a joiner racing the delete must already see the room
				// as no longer waiting.
				g.Status = domain.StatusFinished
			}
			return nil
		})
		if err != nil {
			return ignoreUnchanged(err)
		}
		if len(game.PlayerIDs) == 0 {
			return s.store.Delete(ctx, code)
		}
		return nil
	case domain.StatusOngoing:
		_, err = s.store.Transact(ctx, code, func(g *domain.GameSession) error {
			if g.Status != domain.StatusOngoing {
				return errUnchanged
			}
			g.Status = domain.StatusFinished
			g.Winner = g.OpponentOf(playerID)
			g.Reason = domain.ReasonAbandoned
			return nil
		})
		return ignoreUnchanged(err)
	default:
		return nil
	}
}

// StartGame is host-only: it draws a fully unique question pool, builds
// the rounds and flips the session to ongoing in one transaction.
func (s *DuelService) StartGame(ctx context.Context, code, playerID string) error {
	total := s.cfg.RoundsPerDuel * s.cfg.QuestionsPerRound
	records, err := s.questions.Fetch(ctx, domain.CategoryMix, nil, total)
	if err != nil {
		return err
	}
	if len(records) < total {
		return domain.ErrNotEnoughQuestions
	}

	s.mu.Lock()
	pool := make([]domain.Question, len(records))
	for i, rec := range records {
		pool[i] = FormatQuestion(rec, s.rnd)
	}
	rounds, err := BuildRounds(s.rnd, pool, s.cfg.RoundsPerDuel, s.cfg.QuestionsPerRound)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.HostID() != playerID {
			return domain.ErrNotHost
		}
		if g.Status != domain.StatusWaiting || len(g.PlayerIDs) < 2 {
			return domain.ErrRoomUnavailable
		}
		g.Status = domain.StatusOngoing
		g.CurrentRound = 1
		g.CurrentQuestionIndex = 0
		g.Rounds = rounds
		g.QuestionStartTime = s.now().UnixMilli()
		for _, p := range g.Players {
			p.Ready = true
		}
		return nil
	})
	return err
}

// SubmitAnswer records one player's answer for the current question.
// Each player only ever writes their own entry, so the transaction
// never contends on the same field; the duplicate check still runs
// against fresh state.
func (s *DuelService) SubmitAnswer(ctx context.Context, code, playerID, answer string) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.Status != domain.StatusOngoing || !g.HasPlayer(playerID) {
			return domain.ErrRoomUnavailable
		}
		key := g.AnswerKey()
		if g.Answers == nil {
			g.Answers = map[string]map[string]*domain.Answer{}
		}
		if g.Answers[key] == nil {
			g.Answers[key] = map[string]*domain.Answer{}
		}
		if g.Answers[key][playerID] != nil {
			return domain.ErrAlreadyAnswered
		}
		g.Answers[key][playerID] = &domain.Answer{Answer: answer}
		return nil
	})
	return err
}

// ApplyScores runs the host-only, idempotent scoring transaction: every
// not-yet-applied entry matching the correct answer increments that
// player's tally, then all entries for the key are marked applied.
// ScoreApplied keeps re-runs (snapshot push plus timeout sweep) from
// double-counting.
func (s *DuelService) ApplyScores(ctx context.Context, code, playerID string) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.HostID() != playerID {
			return domain.ErrNotHost
		}
		if g.Status != domain.StatusOngoing {
			return errUnchanged
		}
		question, ok := g.CurrentQuestion()
		if !ok || !g.AllAnswered() {
			return errUnchanged
		}
		answers := g.CurrentAnswers()
		changed := false
		for _, id := range g.PlayerIDs {
			entry := answers[id]
			if entry.ScoreApplied {
				continue
			}
			if entry.Answer != "" && entry.Answer == question.CorrectAnswer {
				g.Players[id].CorrectAnswers++
			}
			entry.ScoreApplied = true
			changed = true
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
	return ignoreUnchanged(err)
}

// Advance moves the question pointer exactly once. The caller passes
// the round/question it observed so a racing duplicate trigger aborts
// instead of skipping a question. Wrapping past the last round finishes
// the duel.
func (s *DuelService) Advance(ctx context.Context, code, playerID string, fromRound, fromQuestion int) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.HostID() != playerID {
			return domain.ErrNotHost
		}
		if g.Status != domain.StatusOngoing {
			return errUnchanged
		}
		if g.CurrentRound != fromRound || g.CurrentQuestionIndex != fromQuestion {
			return errUnchanged
		}
		nextQuestion := g.CurrentQuestionIndex + 1
		nextRound := g.CurrentRound
		if nextQuestion >= len(g.Rounds[g.CurrentRound-1].Questions) {
			nextQuestion = 0
			nextRound++
		}
		if nextRound > len(g.Rounds) {
			g.Status = domain.StatusFinished
			g.Reason = domain.ReasonCompleted
			return nil
		}
		g.CurrentRound = nextRound
		g.CurrentQuestionIndex = nextQuestion
		g.QuestionStartTime = s.now().UnixMilli()
		return nil
	})
	return ignoreUnchanged(err)
}

// SweepTimeouts is the host's guard against an unresponsive opponent:
// once the deadline has passed by the grace margin, every missing
// answer for the current question is filled with a blank so the
// question still resolves.
func (s *DuelService) SweepTimeouts(ctx context.Context, code, playerID string) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.HostID() != playerID {
			return domain.ErrNotHost
		}
		if g.Status != domain.StatusOngoing || g.QuestionStartTime == 0 {
			return errUnchanged
		}
		elapsed := s.now().UnixMilli() - g.QuestionStartTime
		if elapsed < (s.cfg.QuestionTime + s.cfg.SweepGrace).Milliseconds() {
			return errUnchanged
		}
		key := g.AnswerKey()
		if g.Answers == nil {
			g.Answers = map[string]map[string]*domain.Answer{}
		}
		if g.Answers[key] == nil {
			g.Answers[key] = map[string]*domain.Answer{}
		}
		filled := false
		for _, id := range g.PlayerIDs {
			if g.Answers[key][id] == nil {
				g.Answers[key][id] = &domain.Answer{Answer: ""}
				filled = true
			}
		}
		if !filled {
			return errUnchanged
		}
		return nil
	})
	return ignoreUnchanged(err)
}

// MarkAbandoned finishes an ongoing duel in favour of the remaining
// player. Used when a snapshot shows the opponent's slot already gone.
func (s *DuelService) MarkAbandoned(ctx context.Context, code, winnerID string) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.Status != domain.StatusOngoing || len(g.PlayerIDs) >= 2 {
			return errUnchanged
		}
		g.Status = domain.StatusFinished
		g.Winner = winnerID
		g.Reason = domain.ReasonAbandoned
		return nil
	})
	return ignoreUnchanged(err)
}

// Reset is the play-again path: back to waiting with both players kept
// and every counter, answer and flag cleared. This is the only
// transition that re-enters waiting.
func (s *DuelService) Reset(ctx context.Context, code string) error {
	_, err := s.store.Transact(ctx, code, func(g *domain.GameSession) error {
		if g.Status != domain.StatusFinished {
			return domain.ErrRoomUnavailable
		}
		g.Status = domain.StatusWaiting
		g.CurrentRound = 0
		g.CurrentQuestionIndex = 0
		g.Rounds = nil
		g.Answers = map[string]map[string]*domain.Answer{}
		g.QuestionStartTime = 0
		g.Winner = ""
		g.Reason = ""
		for _, p := range g.Players {
			p.CorrectAnswers = 0
			p.Ready = false
		}
		g.CreatedAt = s.now()
		return nil
	})
	return err
}

// Game returns the current document snapshot.
func (s *DuelService) Game(ctx context.Context, code string) (*domain.GameSession, error) {
	return s.store.Get(ctx, code)
}

func ignoreUnchanged(err error) error {
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}
