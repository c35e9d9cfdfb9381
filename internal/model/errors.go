package model

import "errors"

// Sentinel errors shared by the store and controller packages.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrCredentialMiss   = errors.New("credential record not found")
	ErrPhoneInUse       = errors.New("phone number already owned by another session")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotConnected     = errors.New("session not connected")
)
