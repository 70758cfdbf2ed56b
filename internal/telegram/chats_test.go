package telegram

import (
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/set-night/dermassist/internal/domain"
)

func TestChatSessions(t *testing.T) {
	c := NewChatSessions()

	if _, ok := c.Get(1); ok {
		t.Fatal("expected empty map")
	}
	if _, replaced := c.Set(1, "a"); replaced {
		t.Error("first Set must not report a replacement")
	}
	if prev, replaced := c.Set(1, "b"); !replaced || prev != "a" {
		t.Errorf("expected to replace a, got %q %v", prev, replaced)
	}

	c.DeleteIf(1, "a")
	if id, _ := c.Get(1); id != "b" {
		t.Errorf("DeleteIf removed a newer session")
	}
	c.DeleteIf(1, "b")
	if _, ok := c.Get(1); ok {
		t.Error("DeleteIf did not remove matching session")
	}

	c.Set(2, domain.SessionID("x"))
	if prev, ok := c.Delete(2); !ok || prev != "x" {
		t.Errorf("unexpected Delete result %q %v", prev, ok)
	}
}

func TestImageFileID(t *testing.T) {
	tests := []struct {
		name string
		msg  *models.Message
		want string
		ok   bool
	}{
		{"largest photo", &models.Message{Photo: []models.PhotoSize{{FileID: "small"}, {FileID: "large"}}}, "large", true},
		{"image document", &models.Message{Document: &models.Document{FileID: "doc", MimeType: "image/jpeg"}}, "doc", true},
		{"pdf document", &models.Message{Document: &models.Document{FileID: "pdf", MimeType: "application/pdf"}}, "", false},
		{"text only", &models.Message{Text: "hi"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := imageFileID(tt.msg)
			if got != tt.want || ok != tt.ok {
				t.Errorf("imageFileID = %q %v, want %q %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
