// Package dialog decides what the receptionist says next.
//
// The policy is a pure function of the caller's utterance and bounded
// conversation history: a fixed FAQ table is consulted first, then a guarded
// generative completion, then a fixed fallback sentence when the provider
// fails. It holds no per-call state and never mutates call state.
package dialog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wellnessclinic/go-receptionist/pkg/inference"
)

// SystemPrompt is the guardrail instruction prepended to every generative
// request.
const SystemPrompt = `You are a polite, professional medical clinic receptionist.
Your role is to help schedule appointments and answer basic questions.

GUARDRAILS:
1. DO NOT give medical advice or diagnosis. If the user asks for medical advice, say: "I cannot provide medical advice. Please speak with a doctor."
2. DO NOT hallucinate. Stick to general clinic info.
3. Keep responses SHORT and CONVERSATIONAL (1-2 sentences max). This is for a voice call.
4. If asked about emergency symptoms (chest pain, trouble breathing), tell them to hang up and call 911 immediately.
5. If you do not understand, politely ask them to repeat.`

// Fallback is spoken when the generative call fails for any reason. The
// caller never hears internal error detail.
const Fallback = "I'm having trouble connecting to the system right now. Please try again later."

// Generative request bounds. Replies are for a voice call: short, cheap,
// moderately varied.
const (
	// HistoryWindow is the number of most-recent turns sent as context.
	HistoryWindow = 4

	maxReplyTokens   = 100
	replyTemperature = 0.7
)

// faqEntry maps a keyword to its canned answer. Entries are matched in
// declared order; the first hit wins.
type faqEntry struct {
	keyword string
	answer  string
}

// Canned answers for the questions nearly every caller asks. Answering from
// this table bounds latency and cost and must happen before any generative
// call.
var faqTable = []faqEntry{
	{"hours", "We are open Monday to Friday from 9 AM to 5 PM."},
	{"timings", "We are open Monday to Friday from 9 AM to 5 PM."},
	{"location", "We are located at 123 Health Way, Wellness City."},
	{"address", "We are located at 123 Health Way, Wellness City."},
	{"insurance", "We accept blue cross, aetna, and united healthcare."},
	{"cost", "Consultations start at $150."},
}

// LookupFAQ returns the canned answer for an utterance, matching keywords
// case-insensitively as substrings. The second return is false when no entry
// matches.
func LookupFAQ(utterance string) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, entry := range faqTable {
		if strings.Contains(lower, entry.keyword) {
			return entry.answer, true
		}
	}
	return "", false
}

// Policy produces receptionist replies.
type Policy struct {
	provider inference.Provider
	logger   *slog.Logger
}

// NewPolicy creates a dialogue policy backed by the given chat provider.
func NewPolicy(provider inference.Provider, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		provider: provider,
		logger:   logger.With("component", "dialog.policy"),
	}
}

// Respond returns the reply to a caller utterance. It never fails: provider
// errors are absorbed into the fixed fallback sentence, and retries are the
// recognition layer's concern, not this one's.
func (p *Policy) Respond(ctx context.Context, utterance string, history []Turn) string {
	if answer, ok := LookupFAQ(utterance); ok {
		return answer
	}

	messages := make([]inference.Message, 0, HistoryWindow+2)
	messages = append(messages, inference.NewSystemMessage(SystemPrompt))
	for _, turn := range window(history) {
		messages = append(messages, inference.Message{
			Role:    inference.Role(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, inference.NewUserMessage(utterance))

	resp, err := p.provider.Chat(ctx, &inference.ChatRequest{
		Messages:    messages,
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		p.logger.Error("generative call failed", "error", err)
		return Fallback
	}

	return resp.Message.Content
}

// window returns the most recent HistoryWindow turns. Full history is kept
// on the call state; only this slice ever reaches the provider.
func window(history []Turn) []Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}
