/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package twentyq

import "time"

// DefaultGuesses is the guess budget a new session starts with.
const DefaultGuesses = 20

// ConnID identifies a single transport connection for its whole lifetime.
type ConnID string

// Role is a seat at the table. The numeric values are part of the wire format.
type Role int

const (
	NoRole  Role = 0
	Setter  Role = 1
	Guesser Role = 2
)

func (r Role) other() Role {
	switch r {
	case Setter:
		return Guesser
	case Guesser:
		return Setter
	}
	return NoRole
}

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

type EntryKind string

const (
	EntryQuestion EntryKind = "question"
	EntryAnswer   EntryKind = "answer"
)

// Entry is one line of the transcript.
type Entry struct {
	Type EntryKind `json:"type"`
	Text string    `json:"text"`
}

// Session is a single game room. It is owned by a Registry and mutated only by
// the Engine.
type Session struct {
	ID         string
	Setter     ConnID
	Guesser    ConnID
	SecretWord string

	GuessesLeft     int
	Turn            Role
	Transcript      []Entry
	PendingQuestion string
	Status          Status
	Winner          Role

	CreatedAt  time.Time
	FinishedAt time.Time
}

func (s *Session) roleOf(conn ConnID) Role {
	switch conn {
	case "":
		return NoRole
	case s.Setter:
		return Setter
	case s.Guesser:
		return Guesser
	}
	return NoRole
}

func (s *Session) conn(r Role) ConnID {
	switch r {
	case Setter:
		return s.Setter
	case Guesser:
		return s.Guesser
	}
	return ""
}

// finish moves the session into its terminal state. The winner is only ever
// recorded once.
func (s *Session) finish(winner Role, now time.Time) bool {
	if s.Status == StatusFinished {
		return false
	}

	s.Status = StatusFinished
	s.Winner = winner
	s.FinishedAt = now

	return true
}
