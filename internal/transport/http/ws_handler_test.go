package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/memory"
)

func newWSServer(t *testing.T) (*httptest.Server, *memory.GameStore) {
	t.Helper()

	records := make([]domain.QuestionRecord, 6)
	for i := range records {
		records[i] = domain.QuestionRecord{
			ID:            fmt.Sprintf("q%d", i),
			Text:          fmt.Sprintf("question %d", i),
			CorrectAnswer: fmt.Sprintf("right %d", i),
			Decoys:        []string{"wrong a", "wrong b"},
			Category:      "General",
		}
	}
	source := memory.NewStaticQuestionSource(records)
	store := memory.NewGameStore()
	duels := app.NewDuelService(store, source, app.DuelConfig{
		QuestionTime:      5 * time.Second,
		RoundsPerDuel:     2,
		QuestionsPerRound: 2,
		AdvanceDelay:      100 * time.Millisecond,
		TickInterval:      20 * time.Millisecond,
	})
	wsHandler := NewWSHandler(duels, source, app.SoloConfig{FixedQuestions: 2})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func dialWS(t *testing.T, server *httptest.Server, userID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == "error" {
			t.Fatalf("server error while waiting for %s: %v", want, msg.Payload)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("never received %s", want)
	return nil
}

func TestWebSocketDuelLifecycle(t *testing.T) {
	server, _ := newWSServer(t)

	host := dialWS(t, server, "u1", "Alice")
	if err := host.WriteJSON(map[string]any{"type": "create"}); err != nil {
		t.Fatalf("write create: %v", err)
	}
	room := readUntil(host, t, "room")
	roomID, _ := room["roomId"].(string)
	if roomID == "" {
		t.Fatalf("expected room id, got %v", room)
	}
	readUntil(host, t, "state")

	guest := dialWS(t, server, "u2", "Bob")
	if err := guest.WriteJSON(map[string]any{
		"type":    "join",
		"payload": map[string]any{"roomId": roomID},
	}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readUntil(guest, t, "room")
	state := readUntil(guest, t, "state")
	players, _ := state["playerIds"].([]any)
	if len(players) != 2 {
		t.Fatalf("expected 2 players in snapshot, got %v", state["playerIds"])
	}

	if err := host.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	for i := 0; i < 20; i++ {
		state = readUntil(host, t, "state")
		if state["status"] == string(domain.StatusOngoing) {
			break
		}
	}
	if state["status"] != string(domain.StatusOngoing) {
		t.Fatalf("duel never went ongoing, last state %v", state["status"])
	}
	rounds, _ := state["rounds"].([]any)
	if len(rounds) != 2 {
		t.Fatalf("expected 2 rounds in snapshot, got %d", len(rounds))
	}
}

func TestWebSocketCloseDuringSnapshotStream(t *testing.T) {
	server, store := newWSServer(t)
	ctx := context.Background()

	// Tear connections down while their rooms keep committing: the
	// runner must be fully joined before the send channel closes or a
	// late snapshot crashes the handler.
	for i := 0; i < 10; i++ {
		conn := dialWS(t, server, fmt.Sprintf("u%d", i), "Alice")
		if err := conn.WriteJSON(map[string]any{"type": "create"}); err != nil {
			t.Fatalf("write create: %v", err)
		}
		room := readUntil(conn, t, "room")
		code, _ := room["roomId"].(string)
		if code == "" {
			t.Fatalf("expected room id, got %v", room)
		}

		commits := make(chan struct{})
		go func() {
			defer close(commits)
			for j := 0; j < 50; j++ {
				if _, err := store.Transact(ctx, code, func(g *domain.GameSession) error {
					g.QuestionStartTime++
					return nil
				}); err != nil {
					return
				}
			}
		}()
		conn.Close()
		<-commits
	}

	// The server must have survived every teardown above.
	conn := dialWS(t, server, "after", "Bob")
	if err := conn.WriteJSON(map[string]any{"type": "create"}); err != nil {
		t.Fatalf("write create: %v", err)
	}
	readUntil(conn, t, "room")
}

func TestWebSocketRejectsAnonymous(t *testing.T) {
	server, _ := newWSServer(t)

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without identity, got %d", resp.StatusCode)
	}
}

func TestWebSocketSoloFlow(t *testing.T) {
	server, _ := newWSServer(t)
	conn := dialWS(t, server, "u1", "Alice")

	if err := conn.WriteJSON(map[string]any{
		"type":    "soloStart",
		"payload": map[string]any{"mode": "fixed", "category": "Mix"},
	}); err != nil {
		t.Fatalf("write soloStart: %v", err)
	}

	question := readUntil(conn, t, "soloQuestion")
	q, _ := question["question"].(map[string]any)
	correct, _ := q["correctAnswer"].(string)
	if correct == "" {
		t.Fatalf("expected question payload, got %v", question)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":    "soloAnswer",
		"payload": map[string]any{"answer": correct},
	}); err != nil {
		t.Fatalf("write soloAnswer: %v", err)
	}
	progress := readUntil(conn, t, "soloProgress")
	if progress["correct"] != true {
		t.Fatalf("expected correct answer acknowledged, got %v", progress)
	}

	// Second (and final) question ends the fixed run.
	question = readUntil(conn, t, "soloQuestion")
	q, _ = question["question"].(map[string]any)
	correct, _ = q["correctAnswer"].(string)
	if err := conn.WriteJSON(map[string]any{
		"type":    "soloAnswer",
		"payload": map[string]any{"answer": correct},
	}); err != nil {
		t.Fatalf("write soloAnswer: %v", err)
	}
	progress = readUntil(conn, t, "soloProgress")
	if progress["finished"] != true {
		t.Fatalf("expected run finished, got %v", progress)
	}
	result := readUntil(conn, t, "soloResult")
	if result["correctAnswers"] != float64(2) {
		t.Fatalf("expected 2 correct answers in result, got %v", result["correctAnswers"])
	}
}
