/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package twentyq

import (
	"crypto/rand"
	"io"
	"strings"
	"time"
)

const (
	idLength  = 5
	idLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Registry maps game ids to sessions. It is not safe for concurrent use; the
// Engine that owns it is expected to be driven from a single goroutine.
type Registry struct {
	sessions map[string]*Session
	guesses  int

	random io.Reader
	now    func() time.Time
}

// NewRegistry returns an empty registry whose sessions start with the given
// guess budget. A budget below one falls back to DefaultGuesses.
func NewRegistry(guesses int) *Registry {
	if guesses < 1 {
		guesses = DefaultGuesses
	}

	return &Registry{
		sessions: make(map[string]*Session),
		guesses:  guesses,
		random:   rand.Reader,
		now:      time.Now,
	}
}

// Create stores a new waiting session owned by owner and returns its id.
func (r *Registry) Create(secretWord string, owner ConnID) string {
	id := r.newID()

	r.sessions[id] = &Session{
		ID:          id,
		Setter:      owner,
		SecretWord:  secretWord,
		GuessesLeft: r.guesses,
		Turn:        Setter,
		Transcript:  []Entry{},
		Status:      StatusWaiting,
		CreatedAt:   r.now(),
	}

	return id
}

func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[normalizeID(id)]

	return s, ok
}

// Remove deletes the session, if any.
func (r *Registry) Remove(id string) {
	delete(r.sessions, normalizeID(id))
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// Sweep evicts finished sessions that ended more than ttl ago and returns the
// evicted ids. Waiting and active sessions are never evicted.
func (r *Registry) Sweep(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}

	cutoff := r.now().Add(-ttl)

	var removed []string
	for id, s := range r.sessions {
		if s.Status == StatusFinished && s.FinishedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}

	return removed
}

// newID draws ids until one is free. Bytes above the largest multiple of
// len(idLetters) are discarded so every letter is equally likely.
func (r *Registry) newID() string {
	const max = byte(255 - (256 % len(idLetters)))

	buf := make([]byte, idLength*2)

	for {
		out := make([]byte, 0, idLength)

		for len(out) < idLength {
			if _, err := io.ReadFull(r.random, buf); err != nil {
				panic("twentyq: random source failure: " + err.Error())
			}

			for _, b := range buf {
				if b > max {
					continue
				}

				out = append(out, idLetters[int(b)%len(idLetters)])
				if len(out) == idLength {
					break
				}
			}
		}

		id := string(out)
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
