/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package twentyq

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeCreateGame  = "createGame"
	TypeJoinGame    = "joinGame"
	TypeAskQuestion = "askQuestion"
	TypeSendAnswer  = "sendAnswer"
	TypeEndGame     = "endGame"
)

// Outbound message types.
const (
	TypeGameCreated          = "gameCreated"
	TypeGameUpdate           = "gameUpdate"
	TypeError                = "error"
	TypeOpponentDisconnected = "opponentDisconnected"
)

const disconnectNotice = "Your opponent has disconnected. You win!"

// MaxTextLength caps secret words, questions and answers, in characters.
const MaxTextLength = 500

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrGameNotFound     = errors.New("game not found")
	ErrGameFull         = errors.New("game is full")
	ErrGameFinished     = errors.New("game has already finished")
	ErrAlreadyInGame    = errors.New("connection is already in a game")
	ErrEmptyText        = errors.New("text must not be empty")
	ErrTextTooLong      = errors.New("text is too long")
	ErrInvalidWinner    = errors.New("winner must be the setter or the guesser")
)

// replies holds the player-facing text for each refusal.
var replies = map[error]string{
	ErrMalformedMessage: "Malformed message.",
	ErrUnknownMessage:   "Unknown message type.",
	ErrGameNotFound:     "Game not found.",
	ErrGameFull:         "This game is already full.",
	ErrGameFinished:     "This game has already finished.",
	ErrAlreadyInGame:    "You are already in a game.",
	ErrEmptyText:        "Text must not be empty.",
	ErrTextTooLong:      "Text is too long.",
	ErrInvalidWinner:    "Winner must be 1 or 2.",
}

func replyText(err error) string {
	for sentinel, text := range replies {
		if errors.Is(err, sentinel) {
			return text
		}
	}

	return "Something went wrong."
}

// Event is anything the Engine can be asked to handle.
type Event interface {
	eventType() string
}

type CreateGame struct {
	SecretWord string `json:"secretWord"`
}

type JoinGame struct {
	GameID string `json:"gameId"`
}

type AskQuestion struct {
	Question string `json:"question"`
}

type SendAnswer struct {
	Answer string `json:"answer"`
}

type EndGame struct {
	Winner Role `json:"winner"`
}

// ConnectionClosed is fed by the transport when a connection goes away.
type ConnectionClosed struct{}

func (CreateGame) eventType() string       { return TypeCreateGame }
func (JoinGame) eventType() string         { return TypeJoinGame }
func (AskQuestion) eventType() string      { return TypeAskQuestion }
func (SendAnswer) eventType() string       { return TypeSendAnswer }
func (EndGame) eventType() string          { return TypeEndGame }
func (ConnectionClosed) eventType() string { return "connectionClosed" }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent parses a single `{type, payload}` frame.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var ev Event
	switch env.Type {
	case TypeCreateGame:
		ev = &CreateGame{}
	case TypeJoinGame:
		ev = &JoinGame{}
	case TypeAskQuestion:
		ev = &AskQuestion{}
	case TypeSendAnswer:
		ev = &SendAnswer{}
	case TypeEndGame:
		ev = &EndGame{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}

	payload := env.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, env.Type, err)
	}

	switch e := ev.(type) {
	case *CreateGame:
		return *e, nil
	case *JoinGame:
		return *e, nil
	case *AskQuestion:
		return *e, nil
	case *SendAnswer:
		return *e, nil
	case *EndGame:
		return *e, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}

// Message is an outbound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// GameState is the outward view of a session. SecretWord is only ever set by
// Project once the game is finished.
type GameState struct {
	SecretWord    string  `json:"secretWord,omitempty"`
	GuessesLeft   int     `json:"guessesLeft"`
	CurrentPlayer Role    `json:"currentPlayer"`
	Messages      []Entry `json:"messages"`
	LastQuestion  string  `json:"lastQuestion"`
	Status        Status  `json:"status"`
	Winner        *Role   `json:"winner"`
}

type GameCreatedPayload struct {
	GameID    string    `json:"gameId"`
	GameState GameState `json:"gameState"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type OpponentDisconnectedPayload struct {
	Message   string    `json:"message"`
	GameState GameState `json:"gameState"`
}

// Project derives the outward view of s. The transcript is copied so the
// result stays valid after s is mutated.
func Project(s *Session) GameState {
	messages := make([]Entry, len(s.Transcript))
	copy(messages, s.Transcript)

	state := GameState{
		GuessesLeft:   s.GuessesLeft,
		CurrentPlayer: s.Turn,
		Messages:      messages,
		LastQuestion:  s.PendingQuestion,
		Status:        s.Status,
	}

	if s.Status == StatusFinished {
		state.SecretWord = s.SecretWord

		winner := s.Winner
		state.Winner = &winner
	}

	return state
}

func gameUpdate(s *Session) Message {
	return Message{Type: TypeGameUpdate, Payload: Project(s)}
}

func errorMessage(err error) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{Message: replyText(err)}}
}
