package permission

import "context"

type Status int

const (
	StatusUnknown Status = iota
	StatusGranted
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Authorization is the platform-level speech recognition authorization before
// it is reduced to a Status.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationDenied
	AuthorizationRestricted
	AuthorizationAuthorized
)

func (a Authorization) Status() Status {
	switch a {
	case AuthorizationAuthorized:
		return StatusGranted
	case AuthorizationDenied, AuthorizationRestricted:
		return StatusDenied
	default:
		return StatusUnknown
	}
}

func (a Authorization) String() string {
	switch a {
	case AuthorizationAuthorized:
		return "authorized"
	case AuthorizationDenied:
		return "denied"
	case AuthorizationRestricted:
		return "restricted"
	default:
		return "not-determined"
	}
}

func ParseAuthorization(s string) (Authorization, bool) {
	switch s {
	case "authorized":
		return AuthorizationAuthorized, true
	case "denied":
		return AuthorizationDenied, true
	case "restricted":
		return AuthorizationRestricted, true
	case "not-determined":
		return AuthorizationNotDetermined, true
	default:
		return AuthorizationNotDetermined, false
	}
}

type Authorizer interface {
	AuthorizationStatus(ctx context.Context) (Authorization, error)
	// RequestAuthorization blocks until the subject answers the prompt or ctx
	// is done. Already decided authorizations return without prompting.
	RequestAuthorization(ctx context.Context) (Authorization, error)
}

type FixedAuthorizer Authorization

func (f FixedAuthorizer) AuthorizationStatus(context.Context) (Authorization, error) {
	return Authorization(f), nil
}

func (f FixedAuthorizer) RequestAuthorization(context.Context) (Authorization, error) {
	return Authorization(f), nil
}
