package relay

import (
	"strings"
	"testing"

	"mootbot/internal/domain"
)

// stageFixture returns a fixture with a verified user ready for staging.
func stageFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	f.send(t, "/start")
	return f
}

func TestStages_MenuShowsUnlockedStages(t *testing.T) {
	f := stageFixture(t)

	out := f.send(t, "/menu")
	if len(out.Buttons) != 1 {
		t.Fatalf("fresh user should only see stage 1, got %+v", out.Buttons)
	}
	if out.Buttons[0][0].Data != "/stage1" {
		t.Fatalf("expected /stage1 button, got %+v", out.Buttons[0][0])
	}
}

func TestStages_MenuKeepsProgressInStageThree(t *testing.T) {
	f := stageFixture(t)
	f.send(t, "/stage1")
	f.send(t, "case")
	f.send(t, "/stage2")
	f.send(t, "issues")
	f.send(t, "/stage3")
	f.send(t, "aspects")
	if f.userState(t) != domain.StateStageThree {
		t.Fatalf("expected stage_3, got %s", f.userState(t))
	}

	out := f.send(t, "/menu")
	if len(out.Buttons) != 3 {
		t.Fatalf("stage 3 user should see all stage shortcuts, got %+v", out.Buttons)
	}
	if out.Buttons[1][0].Data != "/stage2" || out.Buttons[2][0].Data != "/stage3" {
		t.Fatalf("expected stage 2 and 3 shortcuts, got %+v", out.Buttons)
	}
}

func TestStages_FullProgression(t *testing.T) {
	f := stageFixture(t)

	out := f.send(t, "/stage1")
	if !strings.Contains(out.Content, "enter your case") {
		t.Fatalf("expected case prompt, got %q", out.Content)
	}
	if f.userState(t) != domain.StateAwaitingCase {
		t.Fatalf("expected awaiting_case, got %s", f.userState(t))
	}

	out = f.send(t, "The city banned a protest on the main square.")
	if !strings.Contains(out.Content, "Case received") {
		t.Fatalf("expected case confirmation, got %q", out.Content)
	}
	if f.userState(t) != domain.StateStageOne {
		t.Fatalf("expected stage_1, got %s", f.userState(t))
	}

	// Stage 1 conversation: system prompt + case + current message.
	out = f.send(t, "Is freedom of assembly engaged?")
	if out.Content != "hi there" {
		t.Fatalf("expected model answer, got %q", out.Content)
	}
	f.provider.mu.Lock()
	req := f.provider.lastReq
	f.provider.mu.Unlock()
	if len(req.Messages) != 3 {
		t.Fatalf("expected system+case+question, got %d messages", len(req.Messages))
	}
	if req.Messages[1].Content != "The city banned a protest on the main square." {
		t.Fatalf("case text missing from request: %+v", req.Messages)
	}

	// Stage 2 requires capturing issues first.
	out = f.send(t, "/stage2")
	if !strings.Contains(out.Content, "issues identified in Stage 1") {
		t.Fatalf("expected issues prompt, got %q", out.Content)
	}
	out = f.send(t, "Assembly ban; prior restraint.")
	if !strings.Contains(out.Content, "Issues received") {
		t.Fatalf("expected issues confirmation, got %q", out.Content)
	}
	if f.userState(t) != domain.StateStageTwo {
		t.Fatalf("expected stage_2, got %s", f.userState(t))
	}

	// Stage 2 conversation carries case + issues.
	f.send(t, "What about proportionality?")
	f.provider.mu.Lock()
	req = f.provider.lastReq
	f.provider.mu.Unlock()
	if len(req.Messages) != 4 {
		t.Fatalf("expected system+case+issues+question, got %d", len(req.Messages))
	}

	// Stage 3.
	f.send(t, "/stage3")
	out = f.send(t, "Legality of the ban; necessity in a democratic society.")
	if !strings.Contains(out.Content, "write your arguments") {
		t.Fatalf("expected stage 3 kickoff, got %q", out.Content)
	}
	if f.userState(t) != domain.StateStageThree {
		t.Fatalf("expected stage_3, got %s", f.userState(t))
	}

	f.send(t, "The ban fails the proportionality test because...")
	f.provider.mu.Lock()
	req = f.provider.lastReq
	f.provider.mu.Unlock()
	if len(req.Messages) != 5 {
		t.Fatalf("expected system+case+issues+aspects+question, got %d", len(req.Messages))
	}
}

func TestStages_GatingEnforcesOrder(t *testing.T) {
	f := stageFixture(t)

	out := f.send(t, "/stage2")
	if !strings.Contains(out.Content, "complete Stage 1") {
		t.Fatalf("expected stage 1 gate, got %q", out.Content)
	}
	out = f.send(t, "/stage3")
	if !strings.Contains(out.Content, "complete Stage 2") {
		t.Fatalf("expected stage 2 gate, got %q", out.Content)
	}
	if f.userState(t) != domain.StateVerified {
		t.Fatal("gated commands must not change state")
	}
}

func TestStages_RestartClearsPreviousAnalysis(t *testing.T) {
	f := stageFixture(t)

	f.send(t, "/stage1")
	f.send(t, "old case")
	f.send(t, "a question about the old case")
	f.send(t, "/stage2")
	f.send(t, "old issues")

	// Restart with a new case.
	f.send(t, "/stage1")
	f.send(t, "new case")

	u, _ := f.store.GetUser(t.Context(), "test:1")
	if u.CaseText != "new case" {
		t.Fatalf("case not replaced: %q", u.CaseText)
	}
	if u.IssuesText != "" || u.AspectsText != "" {
		t.Fatal("restart must clear issues and aspects")
	}

	msgs, _ := f.store.GetMessages(t.Context(), "test:1", domain.StateStageOne, 10)
	if len(msgs) != 0 {
		t.Fatalf("stage 1 history should be cleared, got %d records", len(msgs))
	}
}

func TestStages_MenuBlockedBeforeRegistration(t *testing.T) {
	f := newFixture(t, func(cfg *LoopConfig) {
		cfg.RegistrationEnabled = true
		cfg.AllowedDomains = []string{"ehu.lt"}
	})
	f.send(t, "/start")

	out := f.send(t, "/menu")
	if !strings.Contains(out.Content, "registration") {
		t.Fatalf("expected registration gate, got %q", out.Content)
	}
	out = f.send(t, "/stage1")
	if !strings.Contains(out.Content, "registration") {
		t.Fatalf("expected registration gate, got %q", out.Content)
	}
}
