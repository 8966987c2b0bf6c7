package repository

import "time"

type ConsentStatus string

const (
	ConsentStatusNotDetermined ConsentStatus = "not_determined"
	ConsentStatusDenied        ConsentStatus = "denied"
	ConsentStatusRestricted    ConsentStatus = "restricted"
	ConsentStatusAuthorized    ConsentStatus = "authorized"
)

func (s ConsentStatus) Decided() bool {
	return s == ConsentStatusDenied || s == ConsentStatusRestricted || s == ConsentStatusAuthorized
}

type Consent struct {
	Subject    string
	Status     ConsentStatus
	PromptedAt *time.Time
	DecidedAt  *time.Time
	DecidedBy  string
	UpdatedAt  time.Time
}
