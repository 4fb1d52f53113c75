package relay

import (
	"context"
	"fmt"
	"strings"

	"mootbot/internal/domain"
	"mootbot/internal/mail"
	"mootbot/internal/metrics"
)

// startRegistration begins the email verification flow.
func (l *Loop) startRegistration(ctx context.Context, user *domain.User) reply {
	if !l.registrationEnabled {
		return reply{text: "Registration is not required. Send me a message to get going."}
	}
	if user.State.Registered() {
		return reply{text: "You are already registered and can use the bot."}
	}

	user.State = domain.StateAwaitingEmail
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("start registration failed", "error", err)
		return reply{text: apologyText}
	}

	return reply{
		text:    fmt.Sprintf("Please enter your email address. It should belong to one of: %s.", strings.Join(l.allowedDomains, ", ")),
		buttons: cancelButtons(),
	}
}

// receiveEmail validates the address, generates a code, and emails it.
func (l *Loop) receiveEmail(ctx context.Context, user *domain.User, content string) reply {
	email := strings.ToLower(strings.TrimSpace(content))

	if !l.emailAllowed(email) {
		l.logger.Warn("rejected email", "key", user.Key, "email", email)
		return reply{
			text:    fmt.Sprintf("Invalid email! Please make sure your address belongs to one of: %s. Try again.", strings.Join(l.allowedDomains, ", ")),
			buttons: cancelButtons(),
		}
	}

	code, err := mail.GenerateCode()
	if err != nil {
		l.logger.Error("code generation failed", "error", err)
		return reply{text: apologyText}
	}

	user.Email = email
	user.VerificationCode = code
	user.State = domain.StateAwaitingCode
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("saving verification code failed", "error", err)
		return reply{text: apologyText}
	}

	if err := l.mailer.SendVerification(email, code); err != nil {
		l.logger.Error("sending verification email failed", "error", err, "email", email)
		return reply{text: "There was an error sending the verification email. Please try again later."}
	}
	metrics.VerificationMails.Inc()

	return reply{
		text:    fmt.Sprintf("Verification code sent to %s. Please check your email and enter the code here.", email),
		buttons: resendCancelButtons(),
	}
}

// emailAllowed checks the address against the configured domains.
func (l *Loop) emailAllowed(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domainPart := email[at+1:]
	for _, d := range l.allowedDomains {
		if domainPart == strings.ToLower(d) {
			return true
		}
	}
	return false
}

// verifyCode compares the entered code against the stored one.
func (l *Loop) verifyCode(ctx context.Context, user *domain.User, content string) reply {
	entered := strings.TrimSpace(content)

	if user.VerificationCode == "" {
		l.logger.Error("no verification code on record", "key", user.Key)
		return reply{text: "There was an issue retrieving your verification code. Please try again later."}
	}

	if entered != user.VerificationCode {
		return reply{
			text:    "Incorrect code. Please try again or press the button below to resend the verification email.",
			buttons: resendCancelButtons(),
		}
	}

	user.State = domain.StateVerified
	user.VerificationCode = ""
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("marking user verified failed", "error", err)
		return reply{text: apologyText}
	}

	l.logger.Info("user verified", "key", user.Key, "email", user.Email)
	return reply{text: "Your email has been verified! You can now use the bot. Use /menu to start a case analysis."}
}

// resendVerification issues a fresh code to the address on record.
func (l *Loop) resendVerification(ctx context.Context, user *domain.User) reply {
	if user.State.Registered() {
		return reply{text: "You're verified and can continue using the bot."}
	}
	if user.State != domain.StateAwaitingCode || user.Email == "" {
		return reply{text: "There is no pending verification. Use /register to begin."}
	}

	code, err := mail.GenerateCode()
	if err != nil {
		l.logger.Error("code generation failed", "error", err)
		return reply{text: apologyText}
	}

	user.VerificationCode = code
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("saving new verification code failed", "error", err)
		return reply{text: apologyText}
	}

	if err := l.mailer.SendVerification(user.Email, code); err != nil {
		l.logger.Error("resending verification email failed", "error", err)
		return reply{text: "Failed to resend verification email. Please try again later."}
	}
	metrics.VerificationMails.Inc()

	return reply{
		text:    fmt.Sprintf("The verification code has been resent to %s. Please check your email.", user.Email),
		buttons: resendCancelButtons(),
	}
}

// cancelRegistration resets a user back to the starting point.
func (l *Loop) cancelRegistration(ctx context.Context, user *domain.User) reply {
	if user.State.Registered() {
		return reply{text: "You are already registered; there is nothing to cancel."}
	}

	user.State = domain.StateStarted
	user.Email = ""
	user.VerificationCode = ""
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("cancel registration failed", "error", err)
		return reply{text: apologyText}
	}

	return reply{
		text:    "Registration has been canceled. To start again, please press the Register button.",
		buttons: registerButtons(),
	}
}
