package gate

// Outcome is the result of a password submission.
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Submission is a password attempt as received from either protocol.
type Submission struct {
	Secret string
	// HasSecret is false when the secret field was absent altogether.
	HasSecret        bool
	AntiForgeryToken string
	// Binding is the anti-forgery binding value from the client's cookie.
	Binding string
}

func submissionFrom(rc RequestContext) Submission {
	secret, ok := rc.Form[FieldSecret]
	return Submission{
		Secret:           secret,
		HasSecret:        ok,
		AntiForgeryToken: rc.Form[FieldAntiForgery],
		Binding:          rc.Cookies[BindingCookieName],
	}
}

// Attempt checks a submission against the stored password hash. The
// anti-forgery token is verified first; when it fails the password is never
// compared. Both the form and the async protocol go through here.
func (e *Engine) Attempt(sub Submission, storedHash string) Outcome {
	o, _ := e.attempt(sub, storedHash)
	return o
}

func (e *Engine) attempt(sub Submission, storedHash string) (Outcome, Reason) {
	if !e.antiForgery.Verify(sub.AntiForgeryToken, sub.Binding, e.now()) {
		return Rejected, ReasonAntiForgeryFailed
	}
	if !sub.HasSecret || sub.Secret == "" {
		return Rejected, ReasonMissingSecret
	}
	if storedHash == "" || !e.hasher.Verify(sub.Secret, storedHash) {
		return Rejected, ReasonWrongSecret
	}
	return Accepted, ReasonAccepted
}
