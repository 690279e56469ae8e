package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"trivia-duel-service/internal/domain"
)

// SoloConfig carries the single-player scoring knobs.
type SoloConfig struct {
	QuestionTime       time.Duration
	PointsPerCorrect   int
	StreakBonusStep    int
	TimeBonusPerSecond int
	Strikes            int
	FixedQuestions     int
	SurvivalBatch      int
	// RefetchThreshold triggers a survival top-up fetch when this many
	// unplayed questions remain.
	RefetchThreshold int
}

func (c SoloConfig) withDefaults() SoloConfig {
	if c.QuestionTime <= 0 {
		c.QuestionTime = 15 * time.Second
	}
	if c.PointsPerCorrect <= 0 {
		c.PointsPerCorrect = 100
	}
	if c.StreakBonusStep <= 0 {
		c.StreakBonusStep = 20
	}
	if c.TimeBonusPerSecond <= 0 {
		c.TimeBonusPerSecond = 10
	}
	if c.Strikes <= 0 {
		c.Strikes = 3
	}
	if c.FixedQuestions <= 0 {
		c.FixedQuestions = 10
	}
	if c.SurvivalBatch <= 0 {
		c.SurvivalBatch = 30
	}
	if c.RefetchThreshold <= 0 {
		c.RefetchThreshold = 5
	}
	return c
}

// SoloProgress reports the outcome of one answered question.
type SoloProgress struct {
	Correct  bool `json:"correct"`
	Score    int  `json:"score"`
	Streak   int  `json:"streak"`
	Strikes  int  `json:"strikes"`
	Finished bool `json:"finished"`
}

// SoloSession is a single-writer quiz run: fixed mode ends after a set
// number of questions, survival ends on the third wrong answer and tops
// its pool up with unseen questions as it goes.
type SoloSession struct {
	mu     sync.Mutex
	source QuestionSource
	cfg    SoloConfig
	mode   domain.SoloMode
	// category is the requested one; survival/fixed fall back to Mix
	// when it yields nothing, unlike the duel which fails hard.
	category string
	now      func() time.Time
	rnd      *rand.Rand

	questions       []domain.Question
	asked           map[string]struct{}
	index           int
	score           int
	streak          int
	highestStreak   int
	strikes         int
	userAnswers     []string
	questionStarted time.Time
	finished        bool
}

// NewSoloSession fetches the initial question pool and starts the clock
// on the first question.
func NewSoloSession(ctx context.Context, source QuestionSource, mode domain.SoloMode, category string, cfg SoloConfig) (*SoloSession, error) {
	switch mode {
	case domain.SoloFixed, domain.SoloSurvival:
	default:
		return nil, fmt.Errorf("unknown solo mode %q", mode)
	}
	cfg = cfg.withDefaults()

	s := &SoloSession{
		source:   source,
		cfg:      cfg,
		mode:     mode,
		category: category,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		asked:    map[string]struct{}{},
		strikes:  cfg.Strikes,
	}

	count := cfg.FixedQuestions
	if mode == domain.SoloSurvival {
		count = cfg.SurvivalBatch
	}
	records, err := source.Fetch(ctx, category, nil, count)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && category != domain.CategoryMix {
		records, err = source.Fetch(ctx, domain.CategoryMix, nil, count)
		if err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, domain.ErrNoQuestions
	}
	for _, rec := range records {
		s.questions = append(s.questions, FormatQuestion(rec, s.rnd))
		s.asked[rec.ID] = struct{}{}
	}
	s.questionStarted = s.now()
	return s, nil
}

// Mode returns the session's variant.
func (s *SoloSession) Mode() domain.SoloMode {
	return s.mode
}

// Current returns the active question and its position.
func (s *SoloSession) Current() (domain.Question, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.index >= len(s.questions) {
		return domain.Question{}, 0, false
	}
	return s.questions[s.index], s.index, true
}

// Answer scores a submission against the current question and advances.
// An empty answer is a timeout and always counts as wrong. The time
// bonus comes from the server-side question clock, not from anything
// the client claims.
func (s *SoloSession) Answer(ctx context.Context, answer string) (SoloProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.index >= len(s.questions) {
		return SoloProgress{}, domain.ErrSoloFinished
	}

	question := s.questions[s.index]
	correct := answer != "" && answer == question.CorrectAnswer
	s.userAnswers = append(s.userAnswers, answer)

	if correct {
		s.streak++
		if s.streak > s.highestStreak {
			s.highestStreak = s.streak
		}
		s.score += s.cfg.PointsPerCorrect +
			s.secondsLeftLocked()*s.cfg.TimeBonusPerSecond +
			s.streak*s.cfg.StreakBonusStep
	} else {
		s.streak = 0
		if s.mode == domain.SoloSurvival {
			s.strikes--
			if s.strikes <= 0 {
				s.finished = true
			}
		}
	}

	if !s.finished {
		s.index++
		if s.mode == domain.SoloFixed && s.index >= len(s.questions) {
			s.finished = true
		}
	}
	if !s.finished && s.mode == domain.SoloSurvival {
		if len(s.questions)-s.index <= s.cfg.RefetchThreshold {
			s.topUpLocked(ctx)
		}
		if s.index >= len(s.questions) {
			// The bank has no unseen questions left.
			s.finished = true
		}
	}
	s.questionStarted = s.now()

	return SoloProgress{
		Correct:  correct,
		Score:    s.score,
		Streak:   s.streak,
		Strikes:  s.strikes,
		Finished: s.finished,
	}, nil
}

// Finished reports whether the run has ended.
func (s *SoloSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Result summarizes the run so far.
func (s *SoloSession) Result() domain.SoloResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	answered := len(s.userAnswers)
	correct := 0
	for i, ans := range s.userAnswers {
		if i < len(s.questions) && ans != "" && ans == s.questions[i].CorrectAnswer {
			correct++
		}
	}
	questions := make([]domain.Question, answered)
	copy(questions, s.questions[:answered])

	return domain.SoloResult{
		Score:          s.score,
		CorrectAnswers: correct,
		WrongAnswers:   answered - correct,
		TotalQuestions: answered,
		HighestStreak:  s.highestStreak,
		Mode:           s.mode,
		Category:       s.category,
		Questions:      questions,
		UserAnswers:    append([]string(nil), s.userAnswers...),
	}
}

func (s *SoloSession) secondsLeftLocked() int {
	elapsed := s.now().Sub(s.questionStarted)
	left := s.cfg.QuestionTime - elapsed
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// topUpLocked fetches more unseen questions; a failed or empty fetch is
// tolerated and the run simply ends when the pool drains.
func (s *SoloSession) topUpLocked(ctx context.Context) {
	records, err := s.source.Fetch(ctx, s.category, s.asked, s.cfg.SurvivalBatch)
	if err != nil {
		return
	}
	for _, rec := range records {
		if _, seen := s.asked[rec.ID]; seen {
			continue
		}
		s.questions = append(s.questions, FormatQuestion(rec, s.rnd))
		s.asked[rec.ID] = struct{}{}
	}
}
