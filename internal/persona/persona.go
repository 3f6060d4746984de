// Package persona holds the built-in personalities of the synthetic
// counterpart and the keyword classifier that labels free-text ones.
//
// A personality is the system prompt sent with every chat request. Users may
// pick a preset or write their own text; [Classify] maps either back to a
// preset name for the avatar badge.
package persona

import (
	"slices"
	"strings"
)

// Preset names.
const (
	Friendly     = "friendly"
	Professional = "professional"
	Creative     = "creative"
	Casual       = "casual"
)

// Default is the personality used when none is configured.
const Default = "You are a helpful and friendly AI assistant. You respond in a conversational manner and try to be engaging and informative. Keep your responses concise but helpful."

// Preset is a named built-in personality.
type Preset struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

var presets = []Preset{
	{Friendly, "You are a warm and friendly AI assistant. You're enthusiastic, supportive, and always try to make people feel good. Use encouraging language and show genuine interest in the conversation."},
	{Professional, "You are a professional and knowledgeable AI assistant. You provide clear, accurate information and maintain a helpful but formal tone. Focus on being informative and reliable."},
	{Creative, "You are a creative and imaginative AI assistant. You think outside the box, suggest innovative ideas, and approach problems with creativity. Be playful and inspire creative thinking."},
	{Casual, "You are a casual and laid-back AI assistant. You speak informally, use conversational language, and keep things relaxed and easy-going. Be approachable and down-to-earth."},
}

// Presets returns the built-in personalities in display order.
func Presets() []Preset {
	return slices.Clone(presets)
}

// Lookup returns the prompt of the named preset.
func Lookup(name string) (string, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p.Prompt, true
		}
	}
	return "", false
}

// Resolve picks the active personality text: custom text wins, then a known
// preset, then [Default].
func Resolve(preset, custom string) string {
	if c := strings.TrimSpace(custom); c != "" {
		return c
	}
	if p, ok := Lookup(preset); ok {
		return p
	}
	return Default
}

// Next returns the preset after name in display order, wrapping around.
// Unknown names start from the first preset.
func Next(name string) string {
	i := slices.IndexFunc(presets, func(p Preset) bool { return p.Name == name })
	return presets[(i+1)%len(presets)].Name
}

// classifyRules are checked in order; the first matching keyword wins.
var classifyRules = []struct {
	name     string
	keywords []string
}{
	{Friendly, []string{"friendly", "warm"}},
	{Professional, []string{"professional", "formal"}},
	{Creative, []string{"creative", "imaginative"}},
	{Casual, []string{"casual", "relaxed"}},
}

// Classify labels a personality text with a preset name by keyword. Text
// matching nothing is labelled friendly.
func Classify(personality string) string {
	lower := strings.ToLower(personality)
	for _, r := range classifyRules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.name
			}
		}
	}
	return Friendly
}
