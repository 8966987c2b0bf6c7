package repository

import (
	"context"
	"time"
)

type RecordPromptInput struct {
	Subject    string
	PromptedAt time.Time
}

type DecideConsentInput struct {
	Subject   string
	Status    ConsentStatus
	DecidedBy string
	DecidedAt time.Time
}

type ConsentRepository interface {
	// GetConsent returns nil when the subject has no consent record.
	GetConsent(ctx context.Context, subject string) (*Consent, error)
	// RecordPrompt reports whether this call raised the prompt. It returns
	// false while an earlier prompt for the same subject is still unanswered.
	RecordPrompt(ctx context.Context, input RecordPromptInput) (bool, error)
	DecideConsent(ctx context.Context, input DecideConsentInput) error
	// WaitForDecision blocks until the subject's consent is decided or ctx is done.
	WaitForDecision(ctx context.Context, subject string) (*Consent, error)
}

type Repository interface {
	ConsentRepository
}
