package domain

import "errors"

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrGraphNotFound  = errors.New("graph not found")
	ErrRunNotTerminal = errors.New("run has not finished")
	ErrRunTerminal    = errors.New("run already finished")
	ErrInvalidInput   = errors.New("invalid run input")
)
