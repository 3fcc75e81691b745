package repository

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrCastNotFound        = errors.New("cast not found")
	ErrActionNotFound      = errors.New("moderation action not found")
	ErrParticipantNotFound = errors.New("campaign participant not found")
)
