package relay

import (
	"context"
	"strings"
	"testing"

	"mootbot/internal/domain"
)

func regFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, func(cfg *LoopConfig) {
		cfg.RegistrationEnabled = true
		cfg.AllowedDomains = []string{"ehu.lt", "student.ehu.lt"}
	})
}

func (f *fixture) userState(t *testing.T) domain.State {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "test:1")
	if err != nil || u == nil {
		t.Fatalf("user missing: %v", err)
	}
	return u.State
}

func TestRegistration_StartPromptsRegister(t *testing.T) {
	f := regFixture(t)

	out := f.send(t, "/start")
	if !strings.Contains(out.Content, "register") {
		t.Fatalf("expected register prompt, got %q", out.Content)
	}
	if len(out.Buttons) != 1 || out.Buttons[0][0].Data != "/register" {
		t.Fatalf("expected Register button, got %+v", out.Buttons)
	}
	if f.userState(t) != domain.StateStarted {
		t.Fatalf("expected started, got %s", f.userState(t))
	}
}

func TestRegistration_PlainTextBeforeRegisteringIsBlocked(t *testing.T) {
	f := regFixture(t)

	out := f.send(t, "hello")
	if !strings.Contains(out.Content, "register") {
		t.Fatalf("expected register nudge, got %q", out.Content)
	}
	if f.provider.callCount() != 0 {
		t.Fatal("unregistered users must not reach the model")
	}
}

func TestRegistration_StartWhileAwaitingEmailUsesConfiguredDomains(t *testing.T) {
	f := newFixture(t, func(cfg *LoopConfig) {
		cfg.RegistrationEnabled = true
		cfg.AllowedDomains = []string{"law.example.edu"}
	})

	f.send(t, "/start")
	f.send(t, "/register")
	out := f.send(t, "/start")
	if !strings.Contains(out.Content, "law.example.edu") {
		t.Fatalf("expected configured domain in email prompt, got %q", out.Content)
	}
	if strings.Contains(out.Content, "ehu.lt") {
		t.Fatalf("email prompt still names a hardcoded domain: %q", out.Content)
	}
}

func TestRegistration_FullFlow(t *testing.T) {
	f := regFixture(t)

	f.send(t, "/start")
	out := f.send(t, "/register")
	if !strings.Contains(out.Content, "email") {
		t.Fatalf("expected email prompt, got %q", out.Content)
	}
	if f.userState(t) != domain.StateAwaitingEmail {
		t.Fatalf("expected awaiting_email, got %s", f.userState(t))
	}

	// Wrong domain rejected.
	out = f.send(t, "jonas@gmail.com")
	if !strings.Contains(out.Content, "Invalid email") {
		t.Fatalf("expected rejection, got %q", out.Content)
	}
	if f.userState(t) != domain.StateAwaitingEmail {
		t.Fatal("state must not advance on invalid email")
	}

	// Allowed domain accepted, code mailed.
	out = f.send(t, "jonas@student.ehu.lt")
	if !strings.Contains(out.Content, "Verification code sent") {
		t.Fatalf("expected code-sent confirmation, got %q", out.Content)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "jonas@student.ehu.lt" {
		t.Fatalf("expected one mail to the student, got %v", f.mailer.sent)
	}
	if f.userState(t) != domain.StateAwaitingCode {
		t.Fatalf("expected awaiting_code, got %s", f.userState(t))
	}

	// Wrong code retries.
	out = f.send(t, "000000")
	if f.mailer.codes[0] == "000000" {
		t.Skip("improbable code collision")
	}
	if !strings.Contains(out.Content, "Incorrect code") {
		t.Fatalf("expected incorrect-code message, got %q", out.Content)
	}

	// Correct code verifies.
	out = f.send(t, f.mailer.codes[0])
	if !strings.Contains(out.Content, "verified") {
		t.Fatalf("expected verification confirmation, got %q", out.Content)
	}
	if f.userState(t) != domain.StateVerified {
		t.Fatalf("expected verified, got %s", f.userState(t))
	}

	// Verified users reach the model.
	out = f.send(t, "hello")
	if out.Content != "hi there" {
		t.Fatalf("expected model answer after verification, got %q", out.Content)
	}
}

func TestRegistration_Resend(t *testing.T) {
	f := regFixture(t)

	f.send(t, "/start")
	f.send(t, "/register")
	f.send(t, "jonas@ehu.lt")

	out := f.send(t, "/resend")
	if !strings.Contains(out.Content, "resent") {
		t.Fatalf("expected resent confirmation, got %q", out.Content)
	}
	if len(f.mailer.codes) != 2 {
		t.Fatalf("expected 2 mails, got %d", len(f.mailer.codes))
	}

	// The old code no longer works; the new one does.
	u, _ := f.store.GetUser(context.Background(), "test:1")
	if u.VerificationCode != f.mailer.codes[1] {
		t.Fatal("stored code should be the latest one mailed")
	}
}

func TestRegistration_Cancel(t *testing.T) {
	f := regFixture(t)

	f.send(t, "/start")
	f.send(t, "/register")
	f.send(t, "jonas@ehu.lt")

	out := f.send(t, "/cancel")
	if !strings.Contains(out.Content, "canceled") {
		t.Fatalf("expected cancel confirmation, got %q", out.Content)
	}
	if f.userState(t) != domain.StateStarted {
		t.Fatalf("expected started after cancel, got %s", f.userState(t))
	}

	u, _ := f.store.GetUser(context.Background(), "test:1")
	if u.Email != "" || u.VerificationCode != "" {
		t.Fatal("cancel must clear email and code")
	}
}

func TestRegistration_MailFailureKeepsUserInFlow(t *testing.T) {
	f := regFixture(t)
	f.send(t, "/start")
	f.send(t, "/register")

	f.mailer.err = context.DeadlineExceeded
	out := f.send(t, "jonas@ehu.lt")
	if !strings.Contains(out.Content, "error sending the verification email") {
		t.Fatalf("expected mail failure message, got %q", out.Content)
	}
}

func TestRegistration_DisabledAutoVerifiesOnStart(t *testing.T) {
	f := newFixture(t, nil) // registration off

	out := f.send(t, "/start")
	if !strings.Contains(out.Content, "verified") {
		t.Fatalf("expected verified greeting, got %q", out.Content)
	}
	if f.userState(t) != domain.StateVerified {
		t.Fatalf("expected verified, got %s", f.userState(t))
	}
}
