package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/set-night/dermassist/internal/domain"
)

func newTestPromptBuilder(t *testing.T, attachImage bool) *PromptBuilder {
	t.Helper()
	tmpl, err := LoadPromptTemplates("")
	if err != nil {
		t.Fatalf("LoadPromptTemplates failed: %v", err)
	}
	b, err := NewPromptBuilder(tmpl, PromptOptions{AttachImageOnFollowUp: attachImage})
	if err != nil {
		t.Fatalf("NewPromptBuilder failed: %v", err)
	}
	return b
}

func testImage() *domain.Image {
	return &domain.Image{Base64: "aGVsbG8=", MIME: "image/png", Width: 1, Height: 1, Size: 5}
}

func TestAnalysisMessages(t *testing.T) {
	b := newTestPromptBuilder(t, false)

	msgs, err := b.Analysis("high", "what is this lesion?", testImage())
	if err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	system, ok := msgs[0].Content.(string)
	if msgs[0].Role != domain.RoleSystem || !ok {
		t.Fatalf("first message must be a text system prompt")
	}
	if !strings.Contains(system, "dermatology") || !strings.Contains(system, "Modern Standard Arabic") {
		t.Errorf("system prompt misses persona or language: %q", system)
	}

	parts, ok := msgs[1].Content.([]domain.ContentPart)
	if msgs[1].Role != domain.RoleUser || !ok || len(parts) != 2 {
		t.Fatalf("second message must be multimodal user content, got %#v", msgs[1])
	}
	if !strings.Contains(parts[0].Text, "high") || !strings.Contains(parts[0].Text, "what is this lesion?") {
		t.Errorf("user task misses detail level or query: %q", parts[0].Text)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("unexpected image part %#v", parts[1])
	}
}

func TestFollowUpOrdering(t *testing.T) {
	b := newTestPromptBuilder(t, false)

	sess := &domain.Session{
		InitialAnalysis: "initial",
		Image:           *testImage(),
		ChatHistory: []domain.Turn{
			{UserMessage: "u1", BotAnswer: "a1"},
			{UserMessage: "u2", BotAnswer: "a2"},
		},
	}

	msgs, err := b.FollowUp(sess, "u3")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}

	want := []struct {
		role domain.Role
		text string
	}{
		{domain.RoleSystem, ""},
		{domain.RoleAssistant, "initial"},
		{domain.RoleUser, "u1"},
		{domain.RoleAssistant, "a1"},
		{domain.RoleUser, "u2"},
		{domain.RoleAssistant, "a2"},
		{domain.RoleUser, "u3"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Role != w.role {
			t.Errorf("message %d: expected role %s, got %s", i, w.role, msgs[i].Role)
		}
		text, ok := msgs[i].Content.(string)
		if !ok {
			t.Errorf("message %d: expected plain text when image attachment is off", i)
			continue
		}
		if w.text != "" && text != w.text {
			t.Errorf("message %d: expected %q, got %q", i, w.text, text)
		}
	}

	system := msgs[0].Content.(string)
	if !strings.Contains(system, FinalReportMarker) {
		t.Errorf("follow-up system prompt must carry the final report marker")
	}
}

func TestFollowUpWithoutInitialAnalysis(t *testing.T) {
	b := newTestPromptBuilder(t, false)

	msgs, err := b.FollowUp(&domain.Session{}, "hello")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != domain.RoleUser {
		t.Fatalf("expected system + user, got %#v", msgs)
	}
}

func TestFollowUpAttachesImageOnce(t *testing.T) {
	b := newTestPromptBuilder(t, true)

	sess := &domain.Session{
		InitialAnalysis: "initial",
		Image:           *testImage(),
		ChatHistory:     []domain.Turn{{UserMessage: "u1", BotAnswer: "a1"}},
	}

	msgs, err := b.FollowUp(sess, "u2")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}

	var withImage []int
	for i, m := range msgs {
		if _, ok := m.Content.([]domain.ContentPart); ok {
			withImage = append(withImage, i)
		}
	}
	if len(withImage) != 1 || withImage[0] != 2 {
		t.Fatalf("expected image on first replayed user turn only, got %v", withImage)
	}

	// No history: the new message carries it.
	msgs, err = b.FollowUp(&domain.Session{Image: *testImage()}, "first")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}
	if _, ok := msgs[len(msgs)-1].Content.([]domain.ContentPart); !ok {
		t.Errorf("expected the new message to carry the image")
	}
}

func TestLoadPromptTemplatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `
language: English
analysis:
  system: "persona in {{.Language}}"
  user: "detail={{.DetailLevel}} q={{.Query}}"
followup:
  system: "ask {{.MaxQuestions}} then {{.FinalMarker}}"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	tmpl, err := LoadPromptTemplates(path)
	if err != nil {
		t.Fatalf("LoadPromptTemplates failed: %v", err)
	}
	b, err := NewPromptBuilder(tmpl, PromptOptions{})
	if err != nil {
		t.Fatalf("NewPromptBuilder failed: %v", err)
	}

	msgs, err := b.Analysis("low", "q1", testImage())
	if err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}
	if msgs[0].Content.(string) != "persona in English" {
		t.Errorf("unexpected system prompt %q", msgs[0].Content)
	}
	if got := msgs[1].Content.([]domain.ContentPart)[0].Text; got != "detail=low q=q1" {
		t.Errorf("unexpected user task %q", got)
	}

	msgs, err = b.FollowUp(&domain.Session{}, "x")
	if err != nil {
		t.Fatalf("FollowUp failed: %v", err)
	}
	if msgs[0].Content.(string) != "ask 5 then FINAL REPORT:" {
		t.Errorf("unexpected follow-up system prompt %q", msgs[0].Content)
	}
}

func TestLoadPromptTemplatesRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("analysis:\n  system: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPromptTemplates(path); err == nil {
		t.Fatal("expected error for incomplete templates")
	}
}

func TestLanguageOverride(t *testing.T) {
	tmpl, err := LoadPromptTemplates("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewPromptBuilder(tmpl, PromptOptions{Language: "French"})
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := b.Analysis("medium", "q", testImage())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msgs[0].Content.(string), "French") {
		t.Errorf("expected language override in system prompt")
	}
}

func TestDetectFinalReport(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"FINAL REPORT:\n- advice: keep it dry", true},
		{"Final report: advice ...", true},
		{"  ## **Final Report**\n- warning: see a doctor", true},
		{"> final report: ...", true},
		{"تقرير نهائي:\n- نصيحة", true},
		{"How long has it been itchy?", false},
		{"I will write a final report once you answer a few questions.", false},
		{"", false},
	}
	for _, c := range cases {
		if got := DetectFinalReport(c.answer); got != c.want {
			t.Errorf("DetectFinalReport(%q) = %v, want %v", c.answer, got, c.want)
		}
	}
}
