package protocol

import "errors"

var (
	ErrMessageTooShort = errors.New("protocol: message shorter than tag and crc")
	ErrCRCMismatch     = errors.New("protocol: crc mismatch")
	ErrTagMismatch     = errors.New("protocol: message tag mismatch")
	ErrInvalidLength   = errors.New("protocol: invalid payload length")
	ErrNoSource        = errors.New("protocol: frame has no source id")
)
