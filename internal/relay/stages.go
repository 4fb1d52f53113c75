package relay

import (
	"context"

	"mootbot/internal/domain"
)

// startStageOne asks for the case text. Any registered user can restart
// stage 1, which wipes the previous analysis.
func (l *Loop) startStageOne(ctx context.Context, user *domain.User) reply {
	if !user.State.Registered() {
		return reply{text: "Please complete your registration first."}
	}

	user.State = domain.StateAwaitingCase
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("start stage 1 failed", "error", err)
		return reply{text: apologyText}
	}

	return reply{text: "Please enter your case for analysis, or upload it as a document (PDF or DOCX):"}
}

// startStageTwo is only reachable once stage 1 is underway.
func (l *Loop) startStageTwo(ctx context.Context, user *domain.User) reply {
	if !user.State.Registered() {
		return reply{text: "Please complete your registration first."}
	}
	if user.State != domain.StateStageOne {
		return reply{text: "You need to complete Stage 1 before proceeding to Stage 2."}
	}

	user.State = domain.StateAwaitingIssues
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("start stage 2 failed", "error", err)
		return reply{text: apologyText}
	}

	return reply{text: "Please enter the issues identified in Stage 1:"}
}

// startStageThree is only reachable once stage 2 is underway.
func (l *Loop) startStageThree(ctx context.Context, user *domain.User) reply {
	if !user.State.Registered() {
		return reply{text: "Please complete your registration first."}
	}
	if user.State != domain.StateStageTwo {
		return reply{text: "You need to complete Stage 2 before proceeding to Stage 3."}
	}

	user.State = domain.StateAwaitingAspects
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("start stage 3 failed", "error", err)
		return reply{text: apologyText}
	}

	return reply{text: "Please enter the aspects of legality and proportionality you will use:"}
}

// receiveCase stores the case text and opens the stage 1 conversation.
// Starting over clears everything derived from the previous case.
func (l *Loop) receiveCase(ctx context.Context, user *domain.User, content string) reply {
	user.CaseText = content
	user.IssuesText = ""
	user.AspectsText = ""
	user.State = domain.StateStageOne
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("saving case failed", "error", err)
		return reply{text: apologyText}
	}

	for _, stage := range []domain.State{domain.StateStageOne, domain.StateStageTwo, domain.StateStageThree} {
		if err := l.store.ClearMessages(ctx, user.Key, stage); err != nil {
			l.logger.Warn("failed to clear stage history", "error", err, "stage", stage)
		}
	}

	return reply{text: "Case received and processed. You can now start the analysis. Please describe the issues you have identified."}
}

// receiveIssues stores the stage 1 outcome and opens the stage 2 conversation.
func (l *Loop) receiveIssues(ctx context.Context, user *domain.User, content string) reply {
	user.IssuesText = content
	user.State = domain.StateStageTwo
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("saving issues failed", "error", err)
		return reply{text: apologyText}
	}

	if err := l.store.ClearMessages(ctx, user.Key, domain.StateStageTwo); err != nil {
		l.logger.Warn("failed to clear stage history", "error", err)
	}

	return reply{text: "Issues received. You can now start the analysis for Stage 2. Please proceed with identifying aspects of legality and proportionality."}
}

// receiveAspects stores the stage 2 outcome and opens the stage 3 conversation.
func (l *Loop) receiveAspects(ctx context.Context, user *domain.User, content string) reply {
	user.AspectsText = content
	user.State = domain.StateStageThree
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("saving aspects failed", "error", err)
		return reply{text: apologyText}
	}

	if err := l.store.ClearMessages(ctx, user.Key, domain.StateStageThree); err != nil {
		l.logger.Warn("failed to clear stage history", "error", err)
	}

	return reply{text: "All aspects are defined. Now, please write your arguments answering the question:\n\n" +
		"Do the authorities' decisions comply with the requirements of (1) legality and (2) proportionality?"}
}
