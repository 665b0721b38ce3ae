package session

import "errors"

var (
	// ErrSessionNotJoinable means the session is completed or cancelled.
	ErrSessionNotJoinable = errors.New("session: not joinable")
	// ErrNotParticipant means the participant is not on the roster.
	ErrNotParticipant = errors.New("session: unknown participant")
	// ErrNotAuthorized means a tutor-only operation was attempted by a
	// student. Never silently downgraded.
	ErrNotAuthorized = errors.New("session: tutor role required")
	// ErrSessionEnded means a mutating operation arrived after the session
	// reached a terminal status.
	ErrSessionEnded = errors.New("session: already ended")
	// ErrNotCancellable means cancellation was requested for a session that
	// already started or ended.
	ErrNotCancellable = errors.New("session: only scheduled sessions can be cancelled")
)
