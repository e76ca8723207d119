/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package twentyq

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Outcome reports what the Engine did with an event.
type Outcome int

const (
	// Applied events mutated the session and were broadcast.
	Applied Outcome = iota
	// Ignored events were dropped without a reply: out of turn, wrong state,
	// or from a connection with no game.
	Ignored
	// Refused events were answered with an error message to the sender only.
	Refused
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Refused:
		return "refused"
	}

	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Transport delivers messages to connections. Send is fire-and-forget.
type Transport interface {
	Send(conn ConnID, msg Message)
	Reachable(conn ConnID) bool
}

// Engine applies events to sessions held in a Registry. It is not safe for
// concurrent use: every call must come from the same goroutine.
type Engine struct {
	registry  *Registry
	transport Transport
	attached  map[ConnID]string
	logf      func(format string, args ...any)
}

// NewEngine returns an engine driving registry and replying over transport.
// logf may be nil.
func NewEngine(registry *Registry, transport Transport, logf func(format string, args ...any)) *Engine {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Engine{
		registry:  registry,
		transport: transport,
		attached:  make(map[ConnID]string),
		logf:      logf,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// HandleMessage decodes a raw frame from conn and handles it. Frames that do
// not decode are refused with an error reply.
func (e *Engine) HandleMessage(conn ConnID, data []byte) (Outcome, error) {
	ev, err := DecodeEvent(data)
	if err != nil {
		return e.refuse(conn, err)
	}

	return e.Handle(conn, ev)
}

// Handle applies a single event sent by, or concerning, conn.
func (e *Engine) Handle(conn ConnID, ev Event) (Outcome, error) {
	switch ev := ev.(type) {
	case CreateGame:
		return e.create(conn, ev)
	case JoinGame:
		return e.join(conn, ev)
	case AskQuestion:
		return e.ask(conn, ev)
	case SendAnswer:
		return e.answer(conn, ev)
	case EndGame:
		return e.end(conn, ev)
	case ConnectionClosed:
		return e.closed(conn)
	}

	return e.refuse(conn, ErrUnknownMessage)
}

// Sweep evicts finished sessions older than ttl and returns how many were
// removed.
func (e *Engine) Sweep(ttl time.Duration) int {
	removed := e.registry.Sweep(ttl)
	if len(removed) == 0 {
		return 0
	}

	gone := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
		e.logf("GAMES: Evicted finished game %s", id)
	}

	for conn, id := range e.attached {
		if _, ok := gone[id]; ok {
			delete(e.attached, conn)
		}
	}

	return len(removed)
}

func (e *Engine) create(conn ConnID, ev CreateGame) (Outcome, error) {
	secret, err := cleanText(ev.SecretWord)
	if err != nil {
		return e.refuse(conn, err)
	}

	if s := e.session(conn); s != nil && s.Status != StatusFinished {
		return e.refuse(conn, ErrAlreadyInGame)
	}

	id := e.registry.Create(secret, conn)
	e.attached[conn] = id

	s, _ := e.registry.Get(id)

	e.send(conn, Message{
		Type: TypeGameCreated,
		Payload: GameCreatedPayload{
			GameID:    id,
			GameState: Project(s),
		},
	})

	e.logf("GAMES: Created game %s", id)

	return Applied, nil
}

func (e *Engine) join(conn ConnID, ev JoinGame) (Outcome, error) {
	s, ok := e.registry.Get(ev.GameID)
	if !ok {
		return e.refuse(conn, ErrGameNotFound)
	}

	if cur := e.session(conn); cur != nil && cur.Status != StatusFinished {
		return e.refuse(conn, ErrAlreadyInGame)
	}

	if s.Status == StatusFinished {
		return e.refuse(conn, ErrGameFinished)
	}

	if s.Guesser != "" && e.transport.Reachable(s.Guesser) {
		return e.refuse(conn, ErrGameFull)
	}

	if prev := s.Guesser; prev != "" && e.attached[prev] == s.ID {
		delete(e.attached, prev)
	}

	s.Guesser = conn
	s.Status = StatusActive
	s.Turn = Guesser
	e.attached[conn] = s.ID

	e.broadcast(s, gameUpdate(s))

	e.logf("GAMES: Guesser joined game %s", s.ID)

	return Applied, nil
}

func (e *Engine) ask(conn ConnID, ev AskQuestion) (Outcome, error) {
	s := e.session(conn)
	if !e.holdsTurn(s, conn, Guesser) {
		return Ignored, nil
	}

	question, err := cleanText(ev.Question)
	if err != nil {
		return e.refuse(conn, err)
	}

	s.PendingQuestion = question
	s.Transcript = append(s.Transcript, Entry{Type: EntryQuestion, Text: question})
	s.Turn = Setter

	e.broadcast(s, gameUpdate(s))

	return Applied, nil
}

func (e *Engine) answer(conn ConnID, ev SendAnswer) (Outcome, error) {
	s := e.session(conn)
	if !e.holdsTurn(s, conn, Setter) {
		return Ignored, nil
	}

	answer, err := cleanText(ev.Answer)
	if err != nil {
		return e.refuse(conn, err)
	}

	s.GuessesLeft--
	s.Transcript = append(s.Transcript, Entry{
		Type: EntryAnswer,
		Text: s.PendingQuestion + "\n> " + answer,
	})
	s.PendingQuestion = ""

	if s.GuessesLeft <= 0 {
		s.GuessesLeft = 0
		s.finish(Setter, e.registry.now())
		e.logf("GAMES: Game %s finished after %s, guesses exhausted", s.ID, e.age(s))
	} else {
		s.Turn = Guesser
	}

	e.broadcast(s, gameUpdate(s))

	return Applied, nil
}

func (e *Engine) end(conn ConnID, ev EndGame) (Outcome, error) {
	s := e.session(conn)
	if s == nil || s.Status == StatusFinished {
		return Ignored, nil
	}

	if ev.Winner != Setter && ev.Winner != Guesser {
		return e.refuse(conn, ErrInvalidWinner)
	}

	s.finish(ev.Winner, e.registry.now())

	e.broadcast(s, gameUpdate(s))

	e.logf("GAMES: Game %s ended by player %d after %s, winner %d", s.ID, s.roleOf(conn), e.age(s), ev.Winner)

	return Applied, nil
}

// closed handles a connection going away. The opponent wins, is told so, and
// the session is dropped.
func (e *Engine) closed(conn ConnID) (Outcome, error) {
	id, ok := e.attached[conn]
	delete(e.attached, conn)

	if !ok {
		return Ignored, nil
	}

	s, ok := e.registry.Get(id)
	if !ok {
		return Ignored, nil
	}

	role := s.roleOf(conn)
	if role == NoRole {
		return Ignored, nil
	}

	opponent := role.other()

	if s.finish(opponent, e.registry.now()) {
		if other := s.conn(opponent); other != "" && e.transport.Reachable(other) {
			e.transport.Send(other, Message{
				Type: TypeOpponentDisconnected,
				Payload: OpponentDisconnectedPayload{
					Message:   disconnectNotice,
					GameState: Project(s),
				},
			})
		}
	}

	e.drop(s)

	e.logf("GAMES: Player %d left game %s after %s", role, id, e.age(s))

	return Applied, nil
}

// session returns the session conn is attached to, forgetting attachments to
// sessions that no longer exist.
func (e *Engine) session(conn ConnID) *Session {
	id, ok := e.attached[conn]
	if !ok {
		return nil
	}

	s, ok := e.registry.Get(id)
	if !ok {
		delete(e.attached, conn)

		return nil
	}

	return s
}

// age reports how long s has existed, to the second.
func (e *Engine) age(s *Session) time.Duration {
	return e.registry.now().Sub(s.CreatedAt).Round(time.Second)
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)

	switch {
	case text == "":
		return "", ErrEmptyText
	case utf8.RuneCountInString(text) > MaxTextLength:
		return "", ErrTextTooLong
	}

	return text, nil
}

func (e *Engine) holdsTurn(s *Session, conn ConnID, role Role) bool {
	return s != nil &&
		s.Status == StatusActive &&
		s.Turn == role &&
		s.roleOf(conn) == role
}

func (e *Engine) drop(s *Session) {
	e.registry.Remove(s.ID)

	for _, c := range []ConnID{s.Setter, s.Guesser} {
		if c != "" && e.attached[c] == s.ID {
			delete(e.attached, c)
		}
	}
}

func (e *Engine) broadcast(s *Session, msg Message) {
	for _, c := range []ConnID{s.Setter, s.Guesser} {
		e.send(c, msg)
	}
}

func (e *Engine) send(conn ConnID, msg Message) {
	if conn == "" || !e.transport.Reachable(conn) {
		return
	}

	e.transport.Send(conn, msg)
}

func (e *Engine) refuse(conn ConnID, err error) (Outcome, error) {
	e.send(conn, errorMessage(err))

	return Refused, err
}
