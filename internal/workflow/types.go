package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/action"
	"mailpilot/internal/locator"
)

var (
	// ErrConfirmationTimeout means an expected post-action UI state never showed up.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrRecipientNotAccepted means the recipient sub-protocol ran out of attempts.
	ErrRecipientNotAccepted = errors.New("recipient not accepted")
	// ErrInvalidMessage is returned by Message.Validate.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMissingCredentials means no identifier or secret was configured.
	ErrMissingCredentials = errors.New("missing account credentials")
)

// Reason is a failure (or degradation) code carried by Outcomes and Results.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonElementNotFound      Reason = "ElementNotFound"
	ReasonActionDispatchFailed Reason = "ActionDispatchFailed"
	ReasonConfirmationTimeout  Reason = "ConfirmationTimeout"
	ReasonRecipientNotAccepted Reason = "RecipientNotAccepted"
	ReasonNavigationFailed     Reason = "NavigationFailed"
	ReasonSessionFailed        Reason = "SessionFailed"
	ReasonInvalidCommand       Reason = "InvalidCommand"
	ReasonCanceled             Reason = "Canceled"
	ReasonUnexpectedFault      Reason = "UnexpectedFault"
)

// reasonFor maps an error from the lower layers onto the taxonomy.
func reasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, locator.ErrElementNotFound):
		return ReasonElementNotFound
	case errors.Is(err, action.ErrActionDispatchFailed):
		return ReasonActionDispatchFailed
	case errors.Is(err, ErrConfirmationTimeout):
		return ReasonConfirmationTimeout
	case errors.Is(err, ErrRecipientNotAccepted):
		return ReasonRecipientNotAccepted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonUnexpectedFault
	}
}

// Status is the verdict of one step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusDegraded marks a step that fell short but does not stop the run.
	StatusDegraded Status = "degraded"
)

// State is a node of the two-phase workflow state machine.
type State string

const (
	StateStarted             State = "Started"
	StateNavigatedToLogin    State = "NavigatedToLogin"
	StateIdentifierEntered   State = "IdentifierEntered"
	StateIdentifierSubmitted State = "IdentifierSubmitted"
	StateCredentialEntered   State = "CredentialEntered"
	StateCredentialSubmitted State = "CredentialSubmitted"
	StateLoginSucceeded      State = "LoginSucceeded"
	StateLoginFailed         State = "LoginFailed"
	StateInboxReady          State = "InboxReady"
	StateComposeOpened       State = "ComposeOpened"
	StateRecipientFilled     State = "RecipientFilled"
	StateSubjectFilled       State = "SubjectFilled"
	StateBodyFilled          State = "BodyFilled"
	StateSendDispatched      State = "SendDispatched"
	StateSent                State = "Sent"
	StateSendFailed          State = "SendFailed"
)

// Step is one named unit of the workflow. Tag names its screenshot artifact;
// FailureTag names the artifact captured when the step is fatal.
type Step struct {
	Name string
	// Announce is the status line emitted when the step starts.
	Announce   string
	Tag        string
	FailureTag string
	// Reaches is the state entered when the step does not fail.
	Reaches State
	// Fails is the terminal state entered when the step fails, if any.
	Fails State
}

// Outcome is the single verdict a step produces.
type Outcome struct {
	Step      string        `json:"step"`
	Status    Status        `json:"status"`
	Reason    Reason        `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Candidate string        `json:"candidate,omitempty"`
	Mechanism string        `json:"mechanism,omitempty"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// OK reports whether the run may continue after this outcome.
func (o Outcome) OK() bool { return o.Status != StatusFailed }

func succeeded() Outcome { return Outcome{Status: StatusSucceeded} }

func failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Reason: reasonFor(err), Detail: err.Error(), Err: err}
}

func degraded(err error) Outcome {
	return Outcome{Status: StatusDegraded, Reason: reasonFor(err), Detail: err.Error(), Err: err}
}

// Result summarizes one workflow execution.
type Result struct {
	RunID string `json:"run_id"`
	OK    bool   `json:"ok"`
	State State  `json:"state"`
	// Reason is the failure reason, or ConfirmationTimeout for an optimistic send.
	Reason Reason `json:"reason,omitempty"`
	// Confirmed is true only when a send-confirmation marker was observed.
	Confirmed  bool      `json:"confirmed"`
	FailedStep string    `json:"failed_step,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
	Artifacts  []string  `json:"artifacts,omitempty"`
}

// Message is the inbound "send message" command.
type Message struct {
	Recipient string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Validate requires every field to be non-blank.
func (m Message) Validate() error {
	var missing []string
	if strings.TrimSpace(m.Recipient) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(m.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(m.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}
	return nil
}

// Observer receives step and run verdicts as they happen.
type Observer interface {
	StepFinished(runID string, o Outcome)
	RunFinished(r Result)
}
