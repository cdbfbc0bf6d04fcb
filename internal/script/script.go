// Package script holds the interview script handed to the live endpoint: the
// system instruction, the prompts that make the model speak first, and the
// framing used to fold an earlier conversation back into the instruction when
// an interview is resumed.
//
// The instruction text itself is opaque configuration. This package only
// decides how it is combined with history.
package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
)

// Language is a supported interview language.
type Language string

const (
	English Language = "en"
	German  Language = "de"
)

// IsValid reports whether l has built-in defaults.
func (l Language) IsValid() bool {
	return l == English || l == German
}

// Script is the complete prompt material for one interview.
type Script struct {
	Language Language `yaml:"language"`

	// Instructions is the system instruction for a new interview.
	Instructions string `yaml:"instructions"`

	// KickoffNew is sent as the first user text of a new interview so the
	// model opens the conversation.
	KickoffNew string `yaml:"kickoff_new"`

	// KickoffResume replaces KickoffNew when history is present.
	KickoffResume string `yaml:"kickoff_resume"`

	// ResumePreamble introduces the history block inside the instruction.
	ResumePreamble string `yaml:"resume_preamble"`

	// HistoryFooter closes the history block.
	HistoryFooter string `yaml:"history_footer"`

	// UserLabel and AgentLabel prefix history lines.
	UserLabel  string `yaml:"user_label"`
	AgentLabel string `yaml:"agent_label"`
}

// Default returns the built-in script for lang with empty Instructions.
// Unknown languages fall back to English.
func Default(lang Language) Script {
	if lang == German {
		return Script{
			Language:       German,
			KickoffNew:     "Bitte beginnen Sie das Interview.",
			KickoffResume:  "Bitte heißen Sie mich willkommen und setzen Sie das Interview dort fort, wo wir aufgehört haben.",
			ResumePreamble: resumePreambleDE,
			HistoryFooter:  "--- ENDE VERLAUF ---",
			UserLabel:      "Nutzer",
			AgentLabel:     "Noa",
		}
	}
	return Script{
		Language:       English,
		KickoffNew:     "Please begin the interview.",
		KickoffResume:  "Please welcome me back and continue the interview from where we left off.",
		ResumePreamble: resumePreambleEN,
		HistoryFooter:  "--- END HISTORY ---",
		UserLabel:      "User",
		AgentLabel:     "Noa",
	}
}

// WithDefaults fills every empty field except Instructions from the defaults
// of s.Language.
func (s Script) WithDefaults() Script {
	d := Default(s.Language)
	if s.Language == "" {
		s.Language = d.Language
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.KickoffNew, d.KickoffNew)
	fill(&s.KickoffResume, d.KickoffResume)
	fill(&s.ResumePreamble, d.ResumePreamble)
	fill(&s.HistoryFooter, d.HistoryFooter)
	fill(&s.UserLabel, d.UserLabel)
	fill(&s.AgentLabel, d.AgentLabel)
	return s
}

// Validate reports missing or unsupported fields.
func (s Script) Validate() error {
	var errs []error
	if s.Language != "" && !s.Language.IsValid() {
		errs = append(errs, fmt.Errorf("script.language %q is invalid; valid values: en, de", s.Language))
	}
	if strings.TrimSpace(s.Instructions) == "" {
		errs = append(errs, errors.New("script.instructions is required"))
	}
	return errors.Join(errs...)
}

// SystemInstruction returns the instruction sent at setup. Final, non-blank
// history entries are appended as a labelled block; without any, the
// instructions are returned unchanged.
func (s Script) SystemInstruction(history []transcript.Entry) string {
	block := s.historyBlock(history)
	if block == "" {
		return s.Instructions
	}
	return s.Instructions + block
}

// Kickoff returns the prompt that makes the model speak first.
func (s Script) Kickoff(hasHistory bool) string {
	if hasHistory {
		return s.KickoffResume
	}
	return s.KickoffNew
}

func (s Script) historyBlock(history []transcript.Entry) string {
	finals := transcript.Finals(history)
	if len(finals) == 0 {
		return ""
	}
	lines := make([]string, len(finals))
	for i, e := range finals {
		label := s.AgentLabel
		if e.Source == turn.SourceUser {
			label = s.UserLabel
		}
		lines[i] = label + ": " + e.Text
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(s.ResumePreamble)
	b.WriteString("\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
	b.WriteString(s.HistoryFooter)
	b.WriteString("\n")
	return b.String()
}

const resumePreambleEN = `
Here is the conversation history so far. The user has just returned to continue the interview.

Your task is to welcome the user back and smoothly re-engage them.
1. Start with a warm welcome back, like "Welcome back!" or "Hi again, let's pick up where we left off."
2. Briefly re-orient the user by mentioning the last topic. For instance, "Last time, we were discussing..." or "I believe my last question was about..."
3. Then, naturally continue the conversation. You can re-ask your last question or pose the next one, depending on what makes sense in the context of the history.

Make this transition feel natural and supportive.
--- CONVERSATION HISTORY ---`

const resumePreambleDE = `
Hier ist der bisherige Gesprächsverlauf. Der Nutzer ist gerade zurückgekehrt, um das Interview fortzusetzen.

Deine Aufgabe ist es, den Nutzer wieder willkommen zu heißen und das Gespräch reibungslos wieder aufzunehmen.
1. Beginne mit einer herzlichen Begrüßung, wie "Willkommen zurück!" oder "Hallo nochmal, lassen Sie uns dort weitermachen, wo wir aufgehört haben."
2. Orientiere den Nutzer kurz, indem du das letzte Thema erwähnst. Zum Beispiel: "Zuletzt sprachen wir über..." oder "Ich glaube, meine letzte Frage bezog sich auf..."
3. Führe dann das Gespräch natürlich fort. Du kannst deine letzte Frage noch einmal stellen oder die nächste stellen, je nachdem, was im Kontext des Verlaufs sinnvoll ist.

Gestalte diesen Übergang natürlich und unterstützend.
--- GESPRÄCHSVERLAUF ---`
