package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailpilot/internal/action"
	"mailpilot/internal/dom"
)

var (
	stepOpenLogin = Step{
		Name: "open_login", Announce: "Opening login page...",
		Tag: "01_login_page", FailureTag: "error_login_page",
		Reaches: StateNavigatedToLogin, Fails: StateLoginFailed,
	}
	stepEnterIdentifier = Step{
		Name: "enter_identifier", Announce: "Entering email...",
		Tag: "02_identifier_entered", FailureTag: "error_identifier_field_not_found",
		Reaches: StateIdentifierEntered, Fails: StateLoginFailed,
	}
	stepSubmitIdentifier = Step{
		Name: "submit_identifier", Announce: "Clicking Next...",
		Tag: "03_identifier_next", FailureTag: "error_identifier_next",
		Reaches: StateIdentifierSubmitted, Fails: StateLoginFailed,
	}
	stepAwaitCredential = Step{
		Name: "await_credential_page", Announce: "Waiting for password field to appear...",
		Tag: "04_credential_page", FailureTag: "error_credential_page",
		Fails: StateLoginFailed,
	}
	stepEnterCredential = Step{
		Name: "enter_credential", Announce: "Looking for password input field...",
		Tag: "05_credential_entered", FailureTag: "error_password_field_not_found",
		Reaches: StateCredentialEntered, Fails: StateLoginFailed,
	}
	stepSubmitCredential = Step{
		Name: "submit_credential", Announce: "Submitting password...",
		Tag: "06_credential_next", FailureTag: "error_password_next",
		Reaches: StateCredentialSubmitted, Fails: StateLoginFailed,
	}
	stepConfirmLogin = Step{
		Name: "confirm_login", Announce: "Waiting for login success...",
		Tag: "07_login_success", FailureTag: "error_login_failed",
		Reaches: StateLoginSucceeded, Fails: StateLoginFailed,
	}

	stepInbox = Step{
		Name: "open_inbox", Announce: "Checking mailbox is loaded...",
		Tag: "08_inbox_loaded", FailureTag: "error_inbox_not_loaded",
		Reaches: StateInboxReady,
	}
	stepOpenCompose = Step{
		Name: "open_compose", Announce: "Looking for Compose button...",
		Tag: "09_compose_opened", FailureTag: "error_compose_not_found",
		Reaches: StateComposeOpened,
	}
	stepFillRecipient = Step{
		Name: "fill_recipient", Announce: "Filling recipient...",
		FailureTag: "error_to_field_not_found",
		Reaches:    StateRecipientFilled,
	}
	stepFillSubject = Step{
		Name: "fill_subject", Announce: "Filling subject...",
		Tag: "11_subject_filled", FailureTag: "error_subject_field_not_found",
		Reaches: StateSubjectFilled,
	}
	stepFillBody = Step{
		Name: "fill_body", Announce: "Filling body...",
		Tag: "12_body_filled", FailureTag: "error_body_area_not_found",
		Reaches: StateBodyFilled,
	}
	stepSend = Step{
		Name: "send", Announce: "Looking for Send button...",
		FailureTag: "error_send_failed",
		Reaches:    StateSendDispatched, Fails: StateSendFailed,
	}
	stepConfirmSend = Step{
		Name: "confirm_send", Announce: "Waiting for send confirmation...",
		FailureTag: "error_send_confirmation",
		Reaches:    StateSent,
	}
)

// login runs the authentication phase.
func (r *run) login(ctx context.Context) bool {
	account := r.engine.opts.Account

	return r.do(ctx, stepOpenLogin, func(ctx context.Context) Outcome {
		if err := r.page.Navigate(ctx, account.LoginURL); err != nil {
			o := failed(err)
			o.Reason = ReasonNavigationFailed
			return o
		}
		return succeeded()
	}) && r.do(ctx, stepEnterIdentifier, func(ctx context.Context) Outcome {
		_, o := r.fill(ctx, r.catalog.Identifier, account.Username)
		return o
	}) && r.do(ctx, stepSubmitIdentifier, func(ctx context.Context) Outcome {
		return r.click(ctx, r.catalog.IdentifierNext)
	}) && r.do(ctx, stepAwaitCredential, func(ctx context.Context) Outcome {
		if err := r.pause(ctx, r.t.StepPauseMin, r.t.StepPauseMax); err != nil {
			return failed(err)
		}
		return succeeded()
	}) && r.do(ctx, stepEnterCredential, func(ctx context.Context) Outcome {
		_, o := r.fill(ctx, r.catalog.Credential, account.Password)
		return o
	}) && r.do(ctx, stepSubmitCredential, func(ctx context.Context) Outcome {
		return r.click(ctx, r.catalog.CredentialNext)
	}) && r.do(ctx, stepConfirmLogin, func(ctx context.Context) Outcome {
		if err := r.awaitAny(ctx, r.t.LoginConfirmTimeout, account.InboxPattern, r.catalog.LoginMarkers); err != nil {
			r.status("[❌] Login failed or extra verification required.")
			return failed(err)
		}
		r.status("[✅] Login successful!")
		return succeeded()
	})
}

// compose runs the compose/send phase.
func (r *run) compose(ctx context.Context) bool {
	account := r.engine.opts.Account

	return r.do(ctx, stepInbox, func(ctx context.Context) Outcome {
		if u, err := r.page.URL(ctx); err != nil || !strings.Contains(u, account.InboxPattern) {
			r.status("[🔄] Navigating to mailbox...")
			if err := r.page.Navigate(ctx, account.InboxURL); err != nil {
				o := failed(err)
				o.Reason = ReasonNavigationFailed
				return o
			}
		}
		if err := r.awaitAny(ctx, r.t.InboxTimeout, "", r.catalog.InboxMarkers); err != nil {
			if errors.Is(err, ErrConfirmationTimeout) {
				r.status("[!] Main content not detected, continuing...")
				return degraded(err)
			}
			return failed(err)
		}
		return succeeded()
	}) && r.do(ctx, stepOpenCompose, func(ctx context.Context) Outcome {
		o := r.click(ctx, r.catalog.Compose)
		if !o.OK() {
			return o
		}
		if err := r.awaitAny(ctx, r.t.FieldTimeout, "", r.catalog.ComposeWindow); err != nil {
			if !errors.Is(err, ErrConfirmationTimeout) {
				return failed(err)
			}
			r.status("[!] Compose window not detected, continuing...")
			d := degraded(err)
			d.Candidate, d.Mechanism = o.Candidate, o.Mechanism
			return d
		}
		return o
	}) && r.do(ctx, stepFillRecipient, func(ctx context.Context) Outcome {
		to, o := r.fill(ctx, r.catalog.To, r.msg.Recipient)
		if !o.OK() {
			return o
		}
		r.rec.Record(ctx, "10_recipient_typed")

		r.status("[🔄] Handling email suggestion...")
		via, accepted := r.acceptRecipient(ctx, to, r.msg.Recipient)
		if !accepted {
			if err := ctx.Err(); err != nil {
				return failed(err)
			}
			r.status("[!] Recipient not confirmed, continuing anyway")
			d := degraded(fmt.Errorf("%w: %s", ErrRecipientNotAccepted, r.msg.Recipient))
			d.Candidate = o.Candidate
			return d
		}
		r.status("[✓] Recipient accepted via %s", via)
		o.Mechanism = via
		return o
	}) && r.do(ctx, stepFillSubject, func(ctx context.Context) Outcome {
		_, o := r.fill(ctx, r.catalog.Subject, r.msg.Subject)
		return o
	}) && r.do(ctx, stepFillBody, func(ctx context.Context) Outcome {
		body, o := r.fill(ctx, r.catalog.Body, r.msg.Body)
		if o.OK() {
			r.body = body
		}
		return o
	}) && r.do(ctx, stepSend, r.send) && r.do(ctx, stepConfirmSend, r.confirmSend)
}

// send clicks the send button through the whole chain, ending with the
// Ctrl+Enter shortcut from the body. If no button resolves only the shortcut
// is tried.
func (r *run) send(ctx context.Context) Outcome {
	handle, cand, err := r.resolver.Resolve(ctx, r.page, r.catalog.Send)
	var o Outcome
	switch {
	case err == nil:
		r.status("[✓] Send button found with selector: %s", cand)
		o.Candidate = cand.String()
	case ctx.Err() != nil:
		return failed(ctx.Err())
	default:
		r.status("[!] Send button not found with any selector, trying keyboard shortcut Ctrl+Enter...")
	}

	var sc *action.Shortcut
	if r.body != nil {
		sc = &action.Shortcut{Focus: r.body, Keys: []dom.Key{dom.KeyControl, dom.KeyEnter}}
	}
	mech, err := r.exec.Click(ctx, r.page, handle, sc)
	if err != nil {
		r.status("[❌] All send methods failed")
		return failed(err)
	}
	r.status("[✓] Send dispatched via %s", mech)
	o.Status, o.Mechanism = StatusSucceeded, mech
	return o
}

// confirmSend waits for the sent toast. Its absence is not proof of failure:
// the send is then reported as an unconfirmed success.
func (r *run) confirmSend(ctx context.Context) Outcome {
	err := r.awaitAny(ctx, r.t.SendConfirmTimeout, "", r.catalog.SentMarkers)
	switch {
	case err == nil:
		r.mu.Lock()
		r.confirmed = true
		r.mu.Unlock()
		r.rec.Record(ctx, "13_sent_confirmed")
		return succeeded()
	case errors.Is(err, ErrConfirmationTimeout):
		r.rec.Record(ctx, "13_sent_unconfirmed")
		r.status("[✅] Email likely sent (no confirmation toast found)")
		return degraded(err)
	default:
		return failed(err)
	}
}
