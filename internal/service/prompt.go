package service

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
)

// FinalReportMarker opens the terminal report of a follow-up conversation.
const FinalReportMarker = "FINAL REPORT:"

var finalReportPrefixes = []string{
	"final report",
	"تقرير نهائي",
	"التقرير النهائي",
}

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptTemplates is the YAML shape of a prompts file.
type PromptTemplates struct {
	Language string `yaml:"language"`
	Analysis struct {
		System string `yaml:"system"`
		User   string `yaml:"user"`
	} `yaml:"analysis"`
	FollowUp struct {
		System string `yaml:"system"`
	} `yaml:"followup"`
}

// LoadPromptTemplates reads templates from path, or the embedded defaults when path is empty.
func LoadPromptTemplates(path string) (*PromptTemplates, error) {
	data := defaultPrompts
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}
	}

	var t PromptTemplates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if t.Analysis.System == "" || t.Analysis.User == "" || t.FollowUp.System == "" {
		return nil, fmt.Errorf("parse prompts: analysis.system, analysis.user and followup.system are required")
	}
	return &t, nil
}

type PromptOptions struct {
	// Language overrides the templates' language when non-empty.
	Language string
	// AttachImageOnFollowUp re-sends the session image once per follow-up request.
	AttachImageOnFollowUp bool
}

type PromptBuilder struct {
	language       string
	attachImage    bool
	analysisSystem *template.Template
	analysisUser   *template.Template
	followUpSystem *template.Template
}

type promptData struct {
	Language     string
	DetailLevel  string
	Query        string
	MaxQuestions int
	FinalMarker  string
}

func NewPromptBuilder(t *PromptTemplates, opts PromptOptions) (*PromptBuilder, error) {
	lang := opts.Language
	if lang == "" {
		lang = t.Language
	}
	if lang == "" {
		lang = config.DefaultLanguage
	}

	b := &PromptBuilder{language: lang, attachImage: opts.AttachImageOnFollowUp}

	var err error
	if b.analysisSystem, err = template.New("analysis.system").Parse(t.Analysis.System); err != nil {
		return nil, fmt.Errorf("parse analysis.system: %w", err)
	}
	if b.analysisUser, err = template.New("analysis.user").Parse(t.Analysis.User); err != nil {
		return nil, fmt.Errorf("parse analysis.user: %w", err)
	}
	if b.followUpSystem, err = template.New("followup.system").Parse(t.FollowUp.System); err != nil {
		return nil, fmt.Errorf("parse followup.system: %w", err)
	}
	return b, nil
}

// Analysis builds the message list of the initial image analysis.
func (b *PromptBuilder) Analysis(detailLevel, query string, img *domain.Image) ([]domain.ChatMessage, error) {
	data := b.data(detailLevel, query)

	system, err := render(b.analysisSystem, data)
	if err != nil {
		return nil, err
	}
	task, err := render(b.analysisUser, data)
	if err != nil {
		return nil, err
	}

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: []domain.ContentPart{
			domain.TextPart(task),
			domain.ImagePart(img.DataURL()),
		}},
	}, nil
}

// FollowUp builds the message list of one interactive turn:
// system, prior analysis, replayed history, then the new message.
func (b *PromptBuilder) FollowUp(sess *domain.Session, userMessage string) ([]domain.ChatMessage, error) {
	system, err := render(b.followUpSystem, b.data(sess.DetailLevel, ""))
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.ChatMessage, 0, 3+2*len(sess.ChatHistory))
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: system})

	if sess.HasInitialAnalysis() {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleAssistant, Content: sess.InitialAnalysis})
	}

	imageSent := !b.attachImage || sess.Image.Base64 == ""
	userContent := func(text string) interface{} {
		if imageSent {
			return text
		}
		imageSent = true
		return []domain.ContentPart{
			domain.TextPart(text),
			domain.ImagePart(sess.Image.DataURL()),
		}
	}

	for _, turn := range sess.ChatHistory {
		msgs = append(msgs,
			domain.ChatMessage{Role: domain.RoleUser, Content: userContent(turn.UserMessage)},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: turn.BotAnswer},
		)
	}

	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: userContent(userMessage)})
	return msgs, nil
}

func (b *PromptBuilder) data(detailLevel, query string) promptData {
	return promptData{
		Language:     b.language,
		DetailLevel:  detailLevel,
		Query:        query,
		MaxQuestions: config.MaxChatQuestions,
		FinalMarker:  FinalReportMarker,
	}
}

func render(t *template.Template, data promptData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// DetectFinalReport reports whether answer opens with the final report marker.
// Leading markdown decoration is ignored; mentions further into the text are not.
func DetectFinalReport(answer string) bool {
	head := strings.TrimLeftFunc(answer, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("#*_>-`", r)
	})
	head = strings.ToLower(head)
	for _, p := range finalReportPrefixes {
		if strings.HasPrefix(head, p) {
			return true
		}
	}
	return false
}
