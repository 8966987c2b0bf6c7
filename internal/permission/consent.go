package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
)

type Prompter interface {
	PromptConsent(ctx context.Context, subject string) error
}

// ConsentAuthorizer reads speech recognition consent for one subject from the
// consent repository. Decisions are written out of band (slash command).
type ConsentAuthorizer struct {
	repo     repository.ConsentRepository
	prompter Prompter
	subject  string
	now      func() time.Time
}

func NewConsentAuthorizer(repo repository.ConsentRepository, prompter Prompter, subject string) *ConsentAuthorizer {
	return &ConsentAuthorizer{
		repo:     repo,
		prompter: prompter,
		subject:  subject,
		now:      time.Now,
	}
}

func (a *ConsentAuthorizer) AuthorizationStatus(ctx context.Context) (Authorization, error) {
	c, err := a.repo.GetConsent(ctx, a.subject)
	if err != nil {
		return AuthorizationNotDetermined, fmt.Errorf("get consent: %w", err)
	}
	if c == nil {
		return AuthorizationNotDetermined, nil
	}
	return authorizationFromConsent(c.Status), nil
}

func (a *ConsentAuthorizer) RequestAuthorization(ctx context.Context) (Authorization, error) {
	current, err := a.AuthorizationStatus(ctx)
	if err != nil {
		return current, err
	}
	if current != AuthorizationNotDetermined {
		return current, nil
	}

	raised, err := a.repo.RecordPrompt(ctx, repository.RecordPromptInput{
		Subject:    a.subject,
		PromptedAt: a.now(),
	})
	if err != nil {
		return AuthorizationNotDetermined, fmt.Errorf("record consent prompt: %w", err)
	}
	if raised && a.prompter != nil {
		if err := a.prompter.PromptConsent(ctx, a.subject); err != nil {
			slog.Error("failed to deliver consent prompt", "error", err, "subject", a.subject)
		}
	}

	c, err := a.repo.WaitForDecision(ctx, a.subject)
	if err != nil {
		return AuthorizationNotDetermined, fmt.Errorf("wait for consent decision: %w", err)
	}
	return authorizationFromConsent(c.Status), nil
}

// Decide records an answer to the pending prompt.
func (a *ConsentAuthorizer) Decide(ctx context.Context, authorization Authorization, decidedBy string) error {
	return a.repo.DecideConsent(ctx, repository.DecideConsentInput{
		Subject:   a.subject,
		Status:    consentFromAuthorization(authorization),
		DecidedBy: decidedBy,
		DecidedAt: a.now(),
	})
}

func authorizationFromConsent(s repository.ConsentStatus) Authorization {
	switch s {
	case repository.ConsentStatusAuthorized:
		return AuthorizationAuthorized
	case repository.ConsentStatusDenied:
		return AuthorizationDenied
	case repository.ConsentStatusRestricted:
		return AuthorizationRestricted
	default:
		return AuthorizationNotDetermined
	}
}

func consentFromAuthorization(a Authorization) repository.ConsentStatus {
	switch a {
	case AuthorizationAuthorized:
		return repository.ConsentStatusAuthorized
	case AuthorizationDenied:
		return repository.ConsentStatusDenied
	case AuthorizationRestricted:
		return repository.ConsentStatusRestricted
	default:
		return repository.ConsentStatusNotDetermined
	}
}
