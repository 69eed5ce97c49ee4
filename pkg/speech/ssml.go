// Package speech renders reply text into SSML for playback through the
// telephony platform's speech synthesizer.
package speech

import (
	"fmt"
	"strings"
)

// Defaults for the receptionist voice: friendly, professional, slightly
// slowed for phone audio.
const (
	DefaultVoice = "en-US-AvaMultilingualNeural"
	DefaultRate  = 0.9
)

// Synthesizer renders text to SSML with a fixed voice and speaking rate.
type Synthesizer struct {
	voice string
	rate  float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithVoice sets the synthesis voice name.
func WithVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithRate sets the prosody rate multiplier.
func WithRate(rate float64) Option {
	return func(s *Synthesizer) { s.rate = rate }
}

// NewSynthesizer creates a Synthesizer with the default voice profile.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		voice: DefaultVoice,
		rate:  DefaultRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SSML wraps text in speech markup. XML-special characters in the text are
// escaped; reply text comes from the language model and is not trusted to be
// markup-safe.
func (s *Synthesizer) SSML(text string) string {
	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US"><voice name="%s"><prosody rate="%.1f">%s</prosody></voice></speak>`,
		s.voice, s.rate, Escape(text),
	)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces XML-special characters in text.
func Escape(text string) string {
	return xmlEscaper.Replace(text)
}
