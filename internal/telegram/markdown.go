package telegram

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// SplitMessage cuts text into chunks of at most maxLen runes,
// preferring to break after a newline in the second half of a chunk.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			parts = append(parts, string(runes))
			break
		}

		splitAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				splitAt = i + 1
				break
			}
		}

		parts = append(parts, string(runes[:splitAt]))
		runes = runes[splitAt:]
	}
	return parts
}

// FixMarkdown closes code fences and inline code spans left open by the model.
func FixMarkdown(text string) string {
	if strings.Count(text, "```")%2 != 0 {
		text += "\n```"
	}

	var sb strings.Builder
	inBlock, inlineOpen := false, false
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if i+2 < len(runes) && runes[i] == '`' && runes[i+1] == '`' && runes[i+2] == '`' {
			if inlineOpen {
				sb.WriteRune('`')
				inlineOpen = false
			}
			inBlock = !inBlock
			sb.WriteString("```")
			i += 2
			continue
		}
		if !inBlock && runes[i] == '`' {
			inlineOpen = !inlineOpen
		}
		sb.WriteRune(runes[i])
	}
	if inlineOpen {
		sb.WriteRune('`')
	}
	return sb.String()
}

var htmlTag = regexp.MustCompile(`(?i)<\s*/?\s*(p|br|b|i|u|strong|em|ul|ol|li|h[1-6]|div|span|table|tr|td)\b[^>]*>`)

var blockElements = "p, div, li, h1, h2, h3, h4, h5, h6, tr"

// PlainText flattens HTML markup the model sometimes emits into text.
// Input without HTML tags is returned unchanged.
func PlainText(text string) string {
	if !htmlTag.MatchString(text) {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return htmlTag.ReplaceAllString(text, "")
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("• ")
	})
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
