package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/domain"
)

// WSHandler speaks the duel and solo protocols over a websocket. Each
// duel connection owns a runner goroutine that mirrors what the browser
// client used to do: react to document snapshots and to a local
// wall-clock tick, with the host's runner carrying the progression
// mutations.
type WSHandler struct {
	duels     *app.DuelService
	questions app.QuestionSource
	soloCfg   app.SoloConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(duels *app.DuelService, questions app.QuestionSource, soloCfg app.SoloConfig) *WSHandler {
	return &WSHandler{
		duels:     duels,
		questions: questions,
		soloCfg:   soloCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	RoomID string `json:"roomId"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type soloStartPayload struct {
	Mode     string `json:"mode"`
	Category string `json:"category"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type soloQuestionPayload struct {
	Question domain.Question `json:"question"`
	Index    int             `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the per-connection loop. The
// userId and name query parameters are the opaque player identity.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	name := r.URL.Query().Get("name")
	if userID == "" || name == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-closeSignals:
		case <-writerDone:
			// A dead writer no longer drains send; drop the message
			// rather than block the caller forever.
		}
	}
	pushErr := func(err error) {
		push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	var (
		roomCode     string
		runnerCancel context.CancelFunc
		runnerDone   chan struct{}
		solo         *app.SoloSession
	)
	stopRunner := func() {
		if runnerCancel != nil {
			runnerCancel()
			runnerCancel = nil
		}
		if runnerDone != nil {
			// Join the runner before send can be closed: a snapshot may
			// still be in flight through onState.
			<-runnerDone
			runnerDone = nil
		}
		roomCode = ""
	}
	startRunner := func(code string) {
		stopRunner()
		roomCode = code
		ctx, cancel := context.WithCancel(context.Background())
		runnerCancel = cancel
		done := make(chan struct{})
		runnerDone = done
		runner := h.duels.NewRunner(code, userID, func(g *domain.GameSession) {
			push(outboundMessage[any]{Type: "state", Payload: g})
		})
		go func() {
			defer close(done)
			err := runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrConnectionLost) {
				log.Printf("duel %s runner: %v", code, err)
			}
		}()
	}

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "create":
			code, err := h.duels.CreateRoom(ctx, userID, name)
			if err != nil {
				pushErr(err)
				continue
			}
			startRunner(code)
			push(outboundMessage[any]{Type: "room", Payload: roomPayload{RoomID: code}})
		case "join":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
				pushErr(errors.New("invalid join payload"))
				continue
			}
			if _, err := h.duels.JoinRoom(ctx, payload.RoomID, userID, name); err != nil {
				pushErr(err)
				continue
			}
			startRunner(payload.RoomID)
			push(outboundMessage[any]{Type: "room", Payload: roomPayload{RoomID: payload.RoomID}})
		case "start":
			if roomCode == "" {
				pushErr(domain.ErrRoomUnavailable)
				continue
			}
			if err := h.duels.StartGame(ctx, roomCode, userID); err != nil {
				pushErr(err)
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pushErr(errors.New("invalid answer payload"))
				continue
			}
			if roomCode == "" {
				pushErr(domain.ErrRoomUnavailable)
				continue
			}
			if err := h.duels.SubmitAnswer(ctx, roomCode, userID, payload.Answer); err != nil {
				pushErr(err)
			}
		case "playAgain":
			if roomCode == "" {
				pushErr(domain.ErrRoomUnavailable)
				continue
			}
			if err := h.duels.Reset(ctx, roomCode); err != nil {
				pushErr(err)
			}
		case "leave":
			if roomCode != "" {
				if err := h.duels.LeaveRoom(ctx, roomCode, userID); err != nil {
					pushErr(err)
				}
				stopRunner()
			}
		case "soloStart":
			var payload soloStartPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pushErr(errors.New("invalid solo payload"))
				continue
			}
			category := payload.Category
			if category == "" {
				category = domain.CategoryMix
			}
			session, err := app.NewSoloSession(ctx, h.questions, domain.SoloMode(payload.Mode), category, h.soloCfg)
			if err != nil {
				pushErr(err)
				continue
			}
			solo = session
			if question, index, ok := solo.Current(); ok {
				push(outboundMessage[any]{Type: "soloQuestion", Payload: soloQuestionPayload{Question: question, Index: index}})
			}
		case "soloAnswer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				pushErr(errors.New("invalid answer payload"))
				continue
			}
			if solo == nil {
				pushErr(domain.ErrSoloFinished)
				continue
			}
			progress, err := solo.Answer(ctx, payload.Answer)
			if err != nil {
				pushErr(err)
				continue
			}
			push(outboundMessage[any]{Type: "soloProgress", Payload: progress})
			if progress.Finished {
				push(outboundMessage[any]{Type: "soloResult", Payload: solo.Result()})
				solo = nil
				continue
			}
			if question, index, ok := solo.Current(); ok {
				push(outboundMessage[any]{Type: "soloQuestion", Payload: soloQuestionPayload{Question: question, Index: index}})
			}
		default:
			pushErr(errors.New("unsupported message type"))
		}
	}

	// A dropped connection is not a forfeit: the shared document stays
	// behind for the opponent, and only an explicit leave abandons it.
	stopRunner()
	close(closeSignals)
	close(send)
	<-writerDone
}
