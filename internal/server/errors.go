package server

import "errors"

var (
	// ErrEmptyRequest is returned for a blank request line.
	ErrEmptyRequest = errors.New("server: empty request")

	// ErrUnknownKeyword is returned for a keyword the bridge does not serve.
	ErrUnknownKeyword = errors.New("server: unknown keyword")

	// ErrInvalidReply is returned when a reply cannot be put on the wire.
	ErrInvalidReply = errors.New("server: invalid reply")

	// ErrNoReply is returned by Client.Send when the server closed the
	// connection without answering.
	ErrNoReply = errors.New("server: connection closed without reply")

	// ErrAlreadyAnswered is returned when a Conn is answered twice.
	ErrAlreadyAnswered = errors.New("server: reply already sent")
)
