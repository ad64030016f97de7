package network

import "errors"

var (
	ErrPeerClosed    = errors.New("network: peer closed the connection")
	ErrFrameTooLarge = errors.New("network: text frame exceeds buffer capacity")
	ErrShortFrame    = errors.New("network: binary frame shorter than declared length")
	ErrNoProgress    = errors.New("network: send made no progress")
	ErrClosed        = errors.New("network: transport is closed")
)
