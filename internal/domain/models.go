package domain

import (
	"fmt"
	"time"
)

// GameStatus is the lifecycle state of a duel session.
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusOngoing  GameStatus = "ongoing"
	StatusFinished GameStatus = "finished"
)

// EndReason records why a duel reached the finished state.
type EndReason string

const (
	ReasonCompleted EndReason = "completed"
	ReasonAbandoned EndReason = "abandoned"
)

// CategoryMix matches questions from every category.
const CategoryMix = "Mix"

// QuestionRecord is a raw question-bank row: the correct answer and its
// decoys are still separate and no option order has been fixed yet.
type QuestionRecord struct {
	ID            string   `json:"id"`
	Text          string   `json:"questionText"`
	CorrectAnswer string   `json:"correctAnswer"`
	Decoys        []string `json:"decoys"`
	Category      string   `json:"category"`
}

// Question is a playable question with a fixed option order. Both duel
// players see the same order for the lifetime of the round.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"questionText"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Category      string   `json:"category"`
}

// Round groups a fixed number of questions under a category label.
type Round struct {
	Number    int        `json:"roundNumber"`
	Category  string     `json:"category"`
	Questions []Question `json:"questions"`
}

// Player is one participant in a duel session.
type Player struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CorrectAnswers int    `json:"correctAnswers"`
	Ready          bool   `json:"isReady"`
}

// Answer is one player's submission for one question. An empty Answer
// string means the player timed out. ScoreApplied guards against the
// score transaction running twice for the same entry.
type Answer struct {
	Answer       string `json:"answer"`
	ScoreApplied bool   `json:"scoreApplied,omitempty"`
}

// GameSession is the shared duel document, one per room code. It is the
// single source of truth for both players; every compound mutation goes
// through the store's transactional read-modify-write.
type GameSession struct {
	Code                 string                        `json:"id"`
	Status               GameStatus                    `json:"status"`
	Players              map[string]*Player            `json:"players"`
	PlayerIDs            []string                      `json:"playerIds"`
	CurrentRound         int                           `json:"currentRound"`
	CurrentQuestionIndex int                           `json:"currentQuestionIndex"`
	Rounds               []Round                       `json:"rounds"`
	Answers              map[string]map[string]*Answer `json:"answers"`
	QuestionStartTime    int64                         `json:"questionStartTime,omitempty"`
	Winner               string                        `json:"winner,omitempty"`
	Reason               EndReason                     `json:"reason,omitempty"`
	CreatedAt            time.Time                     `json:"createdAt"`
	// Revision counts committed writes, bumped by the store on every
	// commit. Subscribers use it to discard out-of-order snapshots.
	Revision int64 `json:"revision,omitempty"`
}

// HostID returns the player holding progression authority: slot 0 of
// PlayerIDs, fixed at room creation.
func (g *GameSession) HostID() string {
	if len(g.PlayerIDs) == 0 {
		return ""
	}
	return g.PlayerIDs[0]
}

// AnswerKey is the composite key for the current question's answer map.
func (g *GameSession) AnswerKey() string {
	return fmt.Sprintf("%d_%d", g.CurrentRound, g.CurrentQuestionIndex)
}

// CurrentQuestion returns the active question while the duel is ongoing.
func (g *GameSession) CurrentQuestion() (Question, bool) {
	if g.Status != StatusOngoing || g.CurrentRound < 1 || g.CurrentRound > len(g.Rounds) {
		return Question{}, false
	}
	round := g.Rounds[g.CurrentRound-1]
	if g.CurrentQuestionIndex < 0 || g.CurrentQuestionIndex >= len(round.Questions) {
		return Question{}, false
	}
	return round.Questions[g.CurrentQuestionIndex], true
}

// CurrentAnswers returns the answer entries for the current question.
// The returned map may be nil when nobody has answered yet.
func (g *GameSession) CurrentAnswers() map[string]*Answer {
	if g.Answers == nil {
		return nil
	}
	return g.Answers[g.AnswerKey()]
}

// AllAnswered reports whether every player has an entry for the current
// question. This is half of the resolution condition; the elapsed
// deadline is the other half.
func (g *GameSession) AllAnswered() bool {
	answers := g.CurrentAnswers()
	for _, id := range g.PlayerIDs {
		if answers == nil || answers[id] == nil {
			return false
		}
	}
	return len(g.PlayerIDs) > 0
}

// HasPlayer reports whether the given id occupies a slot.
func (g *GameSession) HasPlayer(id string) bool {
	for _, pid := range g.PlayerIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// OpponentOf returns the other player's id, if any.
func (g *GameSession) OpponentOf(id string) string {
	for _, pid := range g.PlayerIDs {
		if pid != id {
			return pid
		}
	}
	return ""
}

// Clone returns a deep copy so stores can hand out snapshots without
// sharing mutable state with callers.
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	cp := *g
	cp.PlayerIDs = append([]string(nil), g.PlayerIDs...)
	cp.Players = make(map[string]*Player, len(g.Players))
	for id, p := range g.Players {
		pc := *p
		cp.Players[id] = &pc
	}
	cp.Rounds = make([]Round, len(g.Rounds))
	for i, r := range g.Rounds {
		rc := r
		rc.Questions = make([]Question, len(r.Questions))
		for j, q := range r.Questions {
			qc := q
			qc.Options = append([]string(nil), q.Options...)
			rc.Questions[j] = qc
		}
		cp.Rounds[i] = rc
	}
	cp.Answers = make(map[string]map[string]*Answer, len(g.Answers))
	for key, byPlayer := range g.Answers {
		entry := make(map[string]*Answer, len(byPlayer))
		for id, a := range byPlayer {
			ac := *a
			entry[id] = &ac
		}
		cp.Answers[key] = entry
	}
	return &cp
}

// SoloMode distinguishes the two single-player variants. Duel state is
// modelled separately so solo-only fields never leak into it.
type SoloMode string

const (
	SoloFixed    SoloMode = "fixed"
	SoloSurvival SoloMode = "survival"
)

// SoloResult is the summary produced when a solo run ends.
type SoloResult struct {
	Score          int        `json:"score"`
	CorrectAnswers int        `json:"correctAnswers"`
	WrongAnswers   int        `json:"wrongAnswers"`
	TotalQuestions int        `json:"totalQuestions"`
	HighestStreak  int        `json:"highestStreak"`
	Mode           SoloMode   `json:"mode"`
	Category       string     `json:"category"`
	Questions      []Question `json:"questions"`
	UserAnswers    []string   `json:"userAnswers"`
}
