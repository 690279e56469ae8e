package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no session document exists for a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists signals a room-code collision on creation.
	ErrRoomExists = errors.New("room code already in use")
	// ErrRoomCreate is returned when the session document could not be created.
	ErrRoomCreate = errors.New("could not create room")
	// ErrRoomUnavailable is returned when the room is missing or has already started.
	ErrRoomUnavailable = errors.New("room unavailable")
	// ErrJoinRejected is returned on self-join or when both slots are taken.
	ErrJoinRejected = errors.New("join rejected")
	// ErrNotHost is returned when a non-host attempts a progression mutation.
	ErrNotHost = errors.New("only the host may do that")
	// ErrNotEnoughQuestions indicates the question pool is smaller than a duel needs.
	ErrNotEnoughQuestions = errors.New("not enough questions")
	// ErrNoQuestions indicates the bank has nothing for the requested category.
	ErrNoQuestions = errors.New("no questions available")
	// ErrAlreadyAnswered is returned on a duplicate submission for the same question.
	ErrAlreadyAnswered = errors.New("already answered")
	// ErrTxConflict surfaces only when optimistic retries are exhausted.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrConnectionLost is terminal for one client's participation; the
	// document stays behind for the other player.
	ErrConnectionLost = errors.New("connection lost")
	// ErrSoloFinished is returned when answering a solo run that already ended.
	ErrSoloFinished = errors.New("solo run already finished")
)
