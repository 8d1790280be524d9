package gate

import "github.com/jmcleod/checkoutgate/token"

// Kind is the variant of a Decision.
type Kind int

const (
	// Allow lets the request through to the application unchanged.
	Allow Kind = iota
	// Challenge renders the password form instead of the guarded page.
	Challenge
	// Redirect sends the client to RedirectURL after setting the auth cookie.
	Redirect
	// JSONResult answers an asynchronous submission with a structured payload.
	JSONResult
	// Throttled refuses a submission because the caller's admission check
	// failed. The adapter decides how to answer.
	Throttled
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Challenge:
		return "challenge"
	case Redirect:
		return "redirect"
	case JSONResult:
		return "json"
	case Throttled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Reason records which rule produced a Decision. It is meant for logs and
// metrics and must never be shown to the client.
type Reason string

const (
	ReasonNotGuarded        Reason = "not_guarded"
	ReasonBypass            Reason = "bypass"
	ReasonSettingsError     Reason = "settings_unavailable"
	ReasonHostNotProtected  Reason = "host_not_protected"
	ReasonNoPassword        Reason = "no_password"
	ReasonValidToken        Reason = "valid_token"
	ReasonAccepted          Reason = "accepted"
	ReasonRejected          Reason = "rejected"
	ReasonChallenge         Reason = "challenge"
	ReasonAntiForgeryFailed Reason = "anti_forgery_failed"
	ReasonMissingSecret     Reason = "missing_secret"
	ReasonWrongSecret       Reason = "wrong_secret"
	ReasonThrottled         Reason = "throttled"
)

// MessageIncorrectPassword is the only failure text ever sent to a client,
// whatever check failed.
const MessageIncorrectPassword = "Incorrect password. Please try again."

// Decision is the outcome of gating a single request. The HTTP adapter
// interprets it; the engine never writes a response itself.
type Decision struct {
	Kind   Kind
	Reason Reason

	// Failed marks a Challenge that follows a rejected submission.
	Failed bool
	// AntiForgeryToken is the token to embed in a Challenge form.
	AntiForgeryToken string
	// NewBinding, when set, is a fresh anti-forgery binding value the client
	// must receive as a cookie along with the Challenge.
	NewBinding string

	// Token is the auth token to set as a cookie (Redirect, successful JSONResult).
	Token *token.Token
	// RedirectURL is the canonical guarded-route URL.
	RedirectURL string

	// Success and Message form the JSONResult payload.
	Success bool
	Message string
}

func allow(r Reason) Decision {
	return Decision{Kind: Allow, Reason: r}
}
