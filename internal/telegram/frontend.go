package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/dermassist/internal/domain"
	"github.com/set-night/dermassist/internal/middleware"
	"github.com/set-night/dermassist/internal/service"
	"github.com/set-night/dermassist/internal/telemetry"
)

const (
	textWelcome = "👋 أهلاً بك في المساعد الجلدي.\n\n" +
		"أرسل صورة للمنطقة المصابة مع سؤالك في التعليق، ثم أجب عن أسئلة المتابعة.\n\n" +
		"/new - بدء استشارة جديدة"
	textNeedCaption   = "✍️ أضف سؤالك في تعليق الصورة."
	textNeedImage     = "📷 أرسل صورة مع سؤالك لبدء استشارة."
	textSessionEnded  = "⌛ انتهت الاستشارة السابقة. أرسل صورة جديدة للبدء."
	textNewReady      = "🔄 تم إنهاء الاستشارة. أرسل صورة جديدة للبدء."
	textSessionBusy   = "⏳ ما زلت أجيب على رسالتك السابقة. انتظر الرد ثم أعد المحاولة."
	textTooLarge      = "❌ الملف كبير جداً."
	textInvalidImage  = "❌ تعذر قراءة الصورة. أرسلها بصيغة JPEG أو PNG."
	textUpstreamError = "❌ حدث خطأ في خدمة التحليل. حاول مرة أخرى لاحقاً."
)

// Consultations is what the bot needs from the consultation service.
type Consultations interface {
	Analyze(ctx context.Context, in service.AnalyzeInput) (*service.AnalyzeOutput, error)
	Chat(ctx context.Context, in service.ChatInput) (*service.ChatOutput, error)
	CloseSession(ctx context.Context, id domain.SessionID) error
}

// Frontend runs consultations over Telegram: a captioned photo starts one,
// text messages continue it.
type Frontend struct {
	svc            Consultations
	chats          *ChatSessions
	httpClient     *http.Client
	maxUploadBytes int64
}

func NewFrontend(svc Consultations, maxUploadBytes int64) *Frontend {
	return &Frontend{
		svc:            svc,
		chats:          NewChatSessions(),
		httpClient:     &http.Client{},
		maxUploadBytes: maxUploadBytes,
	}
}

// Bind sets the service once it exists. It must be called before the bot starts.
func (f *Frontend) Bind(svc Consultations) {
	f.svc = svc
}

// Options returns the bot options the frontend relies on.
func (f *Frontend) Options() []bot.Option {
	return []bot.Option{
		bot.WithMiddlewares(
			middleware.BotRecover(),
			middleware.BotLogging(),
		),
		bot.WithDefaultHandler(f.handleMessage),
	}
}

func (f *Frontend) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, f.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, f.handleNew)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, CallbackNewConsultation, bot.MatchTypeExact, f.handleNewCallback)
}

func (f *Frontend) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	sendText(ctx, b, update.Message.Chat.ID, textWelcome)
}

func (f *Frontend) handleNew(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	f.reset(ctx, update.Message.Chat.ID)
	sendText(ctx, b, update.Message.Chat.ID, textNewReady)
}

func (f *Frontend) handleNewCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
	if cq.Message.Message == nil {
		return
	}
	chatID := cq.Message.Message.Chat.ID
	f.reset(ctx, chatID)
	sendText(ctx, b, chatID, textNewReady)
}

func (f *Frontend) handleMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || strings.HasPrefix(msg.Text, "/") {
		return
	}

	if fileID, ok := imageFileID(msg); ok {
		f.analyze(ctx, b, msg, fileID)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		f.chat(ctx, b, msg)
	}
}

func (f *Frontend) analyze(ctx context.Context, b *bot.Bot, msg *models.Message, fileID string) {
	chatID := msg.Chat.ID
	query := strings.TrimSpace(msg.Caption)
	if query == "" {
		sendText(ctx, b, chatID, textNeedCaption)
		return
	}

	stopTyping := StartTyping(ctx, b, chatID)
	defer stopTyping()

	raw, err := DownloadFile(ctx, b, f.httpClient, fileID, f.maxUploadBytes)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			sendText(ctx, b, chatID, textTooLarge)
			return
		}
		telemetry.Logger(ctx).Error("download telegram file", "error", err)
		sendText(ctx, b, chatID, textUpstreamError)
		return
	}

	out, err := f.svc.Analyze(ctx, service.AnalyzeInput{Image: raw, Query: query})
	if err != nil {
		f.replyError(ctx, b, chatID, err)
		return
	}

	if prev, ok := f.chats.Set(chatID, out.SessionID); ok {
		f.closeSession(ctx, prev)
	}

	stopTyping()
	if err := SendLongMessage(ctx, b, chatID, out.Answer, nil); err != nil {
		telemetry.Logger(ctx).Error("send analysis", "error", err)
	}
}

func (f *Frontend) chat(ctx context.Context, b *bot.Bot, msg *models.Message) {
	chatID := msg.Chat.ID
	id, ok := f.chats.Get(chatID)
	if !ok {
		sendText(ctx, b, chatID, textNeedImage)
		return
	}

	stopTyping := StartTyping(ctx, b, chatID)
	defer stopTyping()

	out, err := f.svc.Chat(ctx, service.ChatInput{SessionID: id, Message: msg.Text})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			f.chats.DeleteIf(chatID, id)
			sendText(ctx, b, chatID, textSessionEnded)
			return
		}
		f.replyError(ctx, b, chatID, err)
		return
	}

	var markup models.ReplyMarkup
	if out.Final {
		markup = NewConsultationKeyboard()
	}
	stopTyping()
	if err := SendLongMessage(ctx, b, chatID, out.Answer, markup); err != nil {
		telemetry.Logger(ctx).Error("send chat answer", "error", err)
	}
}

func (f *Frontend) reset(ctx context.Context, chatID int64) {
	if id, ok := f.chats.Delete(chatID); ok {
		f.closeSession(ctx, id)
	}
}

// closeSession ends id. A session the janitor already removed is not an error.
func (f *Frontend) closeSession(ctx context.Context, id domain.SessionID) {
	if err := f.svc.CloseSession(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		telemetry.Logger(ctx).Warn("close session", "session_id", id, "error", err)
	}
}

func (f *Frontend) replyError(ctx context.Context, b *bot.Bot, chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidImage), errors.Is(err, domain.ErrEmptyInput):
		sendText(ctx, b, chatID, textInvalidImage)
	case errors.Is(err, domain.ErrSessionBusy):
		sendText(ctx, b, chatID, textSessionBusy)
	default:
		telemetry.Logger(ctx).Error("consultation failed", "error", err)
		sendText(ctx, b, chatID, textUpstreamError)
	}
}
