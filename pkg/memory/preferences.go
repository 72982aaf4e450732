// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// PreferencesProvider remembers user details shared across the conversation.
//
// AfterRun scans the user message for self-descriptions (name, location,
// profession, interests) and stores them as facts. BeforeRun injects the known
// facts so the agent can personalize replies.
type PreferencesProvider struct {
	mu    sync.RWMutex
	facts []string
}

// NewPreferencesProvider creates an empty preferences provider.
func NewPreferencesProvider() *PreferencesProvider {
	return &PreferencesProvider{}
}

func (p *PreferencesProvider) BeforeRun(ctx context.Context, inv *Invocation) error {
	p.mu.RLock()
	facts := make([]string, len(p.facts))
	copy(facts, p.facts)
	p.mu.RUnlock()

	if len(facts) == 0 {
		inv.AddInstruction("You don't know anything about the user yet. " +
			"Be friendly and encourage them to share about themselves.")
		return nil
	}

	var b strings.Builder
	b.WriteString("Known facts about the user:")
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	inv.AddInstruction(b.String())
	inv.AddInstruction("Use these facts to personalize your response. " +
		"When asked what you remember, start with 'Based on what I remember about you...' " +
		"and list all known facts.")
	return nil
}

func (p *PreferencesProvider) AfterRun(ctx context.Context, inv *Invocation) error {
	for _, fact := range extractFacts(inv.UserInput) {
		p.add(fact)
	}
	return nil
}

// Facts returns a copy of the stored facts.
func (p *PreferencesProvider) Facts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.facts))
	copy(out, p.facts)
	return out
}

// Display renders the stored facts for UIs and logs.
func (p *PreferencesProvider) Display() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.facts) == 0 {
		return "No memories stored yet."
	}
	var b strings.Builder
	for i, f := range p.facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(f)
	}
	return b.String()
}

// Reset clears all stored facts.
func (p *PreferencesProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facts = nil
}

func (p *PreferencesProvider) add(fact string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.facts {
		if existing == fact {
			return
		}
	}
	p.facts = append(p.facts, fact)
}

var professionMarkers = []string{"i'm a ", "i am a ", "i work as ", "my job is "}

var interestMarkers = []string{"i love ", "i like ", "i enjoy ", "my hobby is ", "my favorite "}

// extractFacts pulls user facts out of free text with simple phrase markers.
// This deliberately trades recall for predictability: only clearly
// self-descriptive phrases produce facts.
func extractFacts(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var facts []string

	if _, rest, ok := cutLast(lower, "my name is"); ok {
		if name := firstWord(rest); name != "" {
			facts = append(facts, "Name: "+capitalize(name))
		}
	}

	livesSomewhere := strings.Contains(lower, "live") ||
		strings.Contains(lower, "i'm from") || strings.Contains(lower, "i am from")
	if strings.Contains(lower, "from ") && livesSomewhere {
		if _, rest, ok := cutLast(text, "from"); ok {
			// Keep commas: place names like "Atlanta, Georgia" are one value.
			location := strings.TrimSpace(rest)
			if i := strings.Index(location, " and "); i >= 0 {
				location = location[:i]
			}
			if location = strings.TrimRight(location, ".,!?"); location != "" {
				facts = append(facts, "Location: "+location)
			}
		}
	}

	for _, marker := range professionMarkers {
		if _, rest, ok := cutLast(lower, marker); ok {
			if profession := clause(rest); profession != "" {
				facts = append(facts, "Profession: "+title(profession))
			}
		}
	}

	for _, marker := range interestMarkers {
		if _, rest, ok := cutLast(lower, marker); ok {
			if interest := clause(rest); interest != "" {
				facts = append(facts, "Interest: "+title(interest))
			}
		}
	}

	return facts
}

// cutLast is strings.Cut around the last occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// clause trims a phrase down to its first clause: everything before a period,
// comma, conjunction or qualifier, with surrounding punctuation removed.
func clause(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{".", ",", " and ", " from ", " but "} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimRight(strings.TrimSpace(s), ".,!?")
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ".,!?")
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func title(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = capitalize(f)
	}
	return strings.Join(fields, " ")
}

var _ Provider = (*PreferencesProvider)(nil)
