package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/twentyq/games/twentyq"
	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireState struct {
	SecretWord    *string `json:"secretWord"`
	GuessesLeft   int     `json:"guessesLeft"`
	CurrentPlayer int     `json:"currentPlayer"`
	Messages      []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
	LastQuestion string `json:"lastQuestion"`
	Status       string `json:"status"`
	Winner       *int   `json:"winner"`
}

func newTestConfig() *Config {
	return &Config{
		bind:    "127.0.0.1",
		guesses: 20,
		port:    8080,
	}
}

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-errs:
			}
		}
	}()

	hub := newHub(cfg)
	go hub.run(ctx)

	srv := httptest.NewServer(newRouter(cfg, hub, errs))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("Failed to read %s: %v", wantType, err)
	}

	if f.Type != wantType {
		t.Fatalf("Expected %s, got %s: %s", wantType, f.Type, f.Payload)
	}

	return f
}

func readState(t *testing.T, conn *websocket.Conn) wireState {
	t.Helper()

	var state wireState
	if err := json.Unmarshal(readFrame(t, conn, "gameUpdate").Payload, &state); err != nil {
		t.Fatalf("Failed to decode game state: %v", err)
	}

	return state
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(readFrame(t, conn, "error").Payload, &payload); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}

	return payload.Message
}

// createGame opens a setter connection and returns it with the new game id.
func createGame(t *testing.T, srv *httptest.Server, secret string) (*websocket.Conn, string, wireState) {
	t.Helper()

	setter := dial(t, srv)
	sendFrame(t, setter, "createGame", map[string]string{"secretWord": secret})

	var created struct {
		GameID    string    `json:"gameId"`
		GameState wireState `json:"gameState"`
	}
	if err := json.Unmarshal(readFrame(t, setter, "gameCreated").Payload, &created); err != nil {
		t.Fatalf("Failed to decode gameCreated: %v", err)
	}

	return setter, created.GameID, created.GameState
}

func TestHub_FullGameOverWebsocket(t *testing.T) {
	srv := newTestServer(t, newTestConfig())

	setter, id, state := createGame(t, srv, "PYTHON")

	if !regexp.MustCompile(`^[A-Z0-9]{5}$`).MatchString(id) {
		t.Fatalf("Expected 5-character alphanumeric id, got %q", id)
	}
	if state.GuessesLeft != 20 {
		t.Errorf("Expected 20 guesses, got %d", state.GuessesLeft)
	}
	if state.SecretWord != nil {
		t.Error("Secret word sent on creation")
	}

	guesser := dial(t, srv)
	sendFrame(t, guesser, "joinGame", map[string]string{"gameId": id})

	for name, conn := range map[string]*websocket.Conn{"setter": setter, "guesser": guesser} {
		state := readState(t, conn)
		if state.Status != "active" || state.CurrentPlayer != 2 {
			t.Fatalf("%s: expected active guesser turn, got %s/%d", name, state.Status, state.CurrentPlayer)
		}
	}

	for i := 1; i <= 20; i++ {
		sendFrame(t, guesser, "askQuestion", map[string]string{"question": "Is it a language?"})

		asked := readState(t, setter)
		readState(t, guesser)

		if asked.LastQuestion != "Is it a language?" || asked.CurrentPlayer != 1 {
			t.Fatalf("Round %d: setter saw %q/%d", i, asked.LastQuestion, asked.CurrentPlayer)
		}

		sendFrame(t, setter, "sendAnswer", map[string]string{"answer": "Yes"})

		answered := readState(t, setter)
		seen := readState(t, guesser)

		if i < 20 {
			if seen.SecretWord != nil || answered.SecretWord != nil {
				t.Fatalf("Round %d: secret word leaked", i)
			}
			if seen.GuessesLeft != 20-i {
				t.Fatalf("Round %d: expected %d guesses, got %d", i, 20-i, seen.GuessesLeft)
			}
			continue
		}

		for name, final := range map[string]wireState{"setter": answered, "guesser": seen} {
			if final.Status != "finished" {
				t.Errorf("%s: expected finished, got %s", name, final.Status)
			}
			if final.Winner == nil || *final.Winner != 1 {
				t.Errorf("%s: expected setter to win, got %v", name, final.Winner)
			}
			if final.SecretWord == nil || *final.SecretWord != "PYTHON" {
				t.Errorf("%s: expected secret word PYTHON", name)
			}
		}
	}
}

func TestHub_JoinErrors(t *testing.T) {
	srv := newTestServer(t, newTestConfig())

	stranger := dial(t, srv)
	sendFrame(t, stranger, "joinGame", map[string]string{"gameId": "ZZZZZ"})

	if msg := readError(t, stranger); msg != "Game not found." {
		t.Errorf("Unexpected error %q", msg)
	}

	setter, id, _ := createGame(t, srv, "PYTHON")

	guesser := dial(t, srv)
	sendFrame(t, guesser, "joinGame", map[string]string{"gameId": strings.ToLower(id)})
	readState(t, setter)
	readState(t, guesser)

	sendFrame(t, stranger, "joinGame", map[string]string{"gameId": id})

	if msg := readError(t, stranger); msg != "This game is already full." {
		t.Errorf("Unexpected error %q", msg)
	}

	// The game carries on untouched.
	sendFrame(t, guesser, "askQuestion", map[string]string{"question": "Still here?"})
	if state := readState(t, setter); state.Status != "active" || state.LastQuestion != "Still here?" {
		t.Errorf("Unexpected state after refused join: %+v", state)
	}
}

func TestHub_MalformedMessage(t *testing.T) {
	srv := newTestServer(t, newTestConfig())

	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if msg := readError(t, conn); msg != "Malformed message." {
		t.Errorf("Unexpected error %q", msg)
	}

	// The connection stays usable.
	sendFrame(t, conn, "createGame", map[string]string{"secretWord": "PYTHON"})
	readFrame(t, conn, "gameCreated")
}

func TestHub_SetterDisconnects(t *testing.T) {
	srv := newTestServer(t, newTestConfig())

	setter, id, _ := createGame(t, srv, "PYTHON")

	guesser := dial(t, srv)
	sendFrame(t, guesser, "joinGame", map[string]string{"gameId": id})
	readState(t, setter)
	readState(t, guesser)

	_ = setter.Close()

	var notice struct {
		Message   string    `json:"message"`
		GameState wireState `json:"gameState"`
	}
	if err := json.Unmarshal(readFrame(t, guesser, "opponentDisconnected").Payload, &notice); err != nil {
		t.Fatalf("Failed to decode notice: %v", err)
	}

	if notice.Message != "Your opponent has disconnected. You win!" {
		t.Errorf("Unexpected notice %q", notice.Message)
	}
	if notice.GameState.Winner == nil || *notice.GameState.Winner != 2 {
		t.Errorf("Expected guesser to win, got %v", notice.GameState.Winner)
	}
	if notice.GameState.SecretWord == nil || *notice.GameState.SecretWord != "PYTHON" {
		t.Error("Expected secret word revealed")
	}

	latecomer := dial(t, srv)
	sendFrame(t, latecomer, "joinGame", map[string]string{"gameId": id})

	if msg := readError(t, latecomer); msg != "Game not found." {
		t.Errorf("Expected removed game, got %q", msg)
	}
}

func TestHub_OverlongQuestionIsRefused(t *testing.T) {
	srv := newTestServer(t, newTestConfig())

	setter, id, _ := createGame(t, srv, "PYTHON")

	guesser := dial(t, srv)
	sendFrame(t, guesser, "joinGame", map[string]string{"gameId": id})
	readState(t, setter)
	readState(t, guesser)

	sendFrame(t, guesser, "askQuestion", map[string]string{"question": strings.Repeat("a", 5000)})

	if msg := readError(t, guesser); msg != "Text is too long." {
		t.Errorf("Unexpected error %q", msg)
	}

	// The sender keeps its seat and its turn.
	sendFrame(t, guesser, "askQuestion", map[string]string{"question": "Is it a language?"})

	state := readState(t, setter)
	if state.Status != "active" || state.LastQuestion != "Is it a language?" || len(state.Messages) != 1 {
		t.Errorf("Unexpected state after refused question: %+v", state)
	}
}

func receive(t *testing.T, ch <-chan twentyq.Message) (twentyq.Message, bool) {
	t.Helper()

	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for message")
	}

	return twentyq.Message{}, false
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHub(newTestConfig())
	go h.run(ctx)

	setter := &Client{id: "setter", send: make(chan twentyq.Message, sendBuffer)}
	h.register <- setter
	h.inbound <- inboundMessage{client: setter, data: []byte(`{"type":"createGame","payload":{"secretWord":"PYTHON"}}`)}

	created, _ := receive(t, setter.send)
	id := created.Payload.(twentyq.GameCreatedPayload).GameID

	// The guesser never reads, so its buffer fills after one message.
	guesser := &Client{id: "guesser", send: make(chan twentyq.Message, 1)}
	h.register <- guesser
	h.inbound <- inboundMessage{client: guesser, data: []byte(`{"type":"joinGame","payload":{"gameId":"` + id + `"}}`)}
	h.inbound <- inboundMessage{client: guesser, data: []byte(`{"type":"askQuestion","payload":{"question":"Big?"}}`)}

	for _, want := range []string{twentyq.TypeGameUpdate, twentyq.TypeGameUpdate} {
		if msg, _ := receive(t, setter.send); msg.Type != want {
			t.Fatalf("Expected %s, got %s", want, msg.Type)
		}
	}

	if _, ok := receive(t, guesser.send); !ok {
		t.Fatal("Expected the join update before the drop")
	}
	if _, ok := receive(t, guesser.send); ok {
		t.Fatal("Slow client's send channel should be closed")
	}

	// The closed channel ends the write pump, which takes the read pump down
	// with it.
	h.unregister <- guesser

	msg, _ := receive(t, setter.send)
	if msg.Type != twentyq.TypeOpponentDisconnected {
		t.Fatalf("Expected %s, got %s", twentyq.TypeOpponentDisconnected, msg.Type)
	}

	notice := msg.Payload.(twentyq.OpponentDisconnectedPayload)
	if notice.GameState.Winner == nil || *notice.GameState.Winner != twentyq.Setter {
		t.Errorf("Expected setter to win, got %v", notice.GameState.Winner)
	}
}
