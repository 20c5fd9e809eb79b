// Package synth composes text locally from category templates when no live
// text provider is configured.
package synth

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"text/template"
	"unicode"

	"github.com/pario-ai/polycraft/pkg/models"
)

// Category is the kind of response a prompt asks for.
type Category string

const (
	Story       Category = "story"
	Explanation Category = "explanation"
	Creative    Category = "creative"
	Default     Category = "default"
)

// DefaultTopic is used when a prompt has nothing but stop words.
const DefaultTopic = "this topic"

// Composition is a synthesized response with the facts used to build it.
type Composition struct {
	Text           string
	Category       Category
	Topic          string
	Template       int
	WordCount      int
	CharacterCount int
}

// Synthesizer composes responses from per-category template sets.
// It is safe for concurrent use.
type Synthesizer struct {
	mu           sync.Mutex
	rng          *rand.Rand
	templates    map[Category][]*template.Template
	elaborations map[Category]*template.Template
}

// Option configures a Synthesizer.
type Option func(*config)

type config struct {
	src          rand.Source
	templates    map[Category][]string
	elaborations map[Category]string
}

// WithSource makes template selection use src instead of the global source.
func WithSource(src rand.Source) Option {
	return func(c *config) { c.src = src }
}

// WithTemplates replaces the template set of one category. Templates use
// text/template syntax with .Topic and .Prompt available.
func WithTemplates(cat Category, texts ...string) Option {
	return func(c *config) { c.templates[cat] = texts }
}

// WithElaboration replaces the elaboration paragraph of one category.
func WithElaboration(cat Category, text string) Option {
	return func(c *config) { c.elaborations[cat] = text }
}

// New parses the template sets and returns a ready Synthesizer.
func New(opts ...Option) (*Synthesizer, error) {
	c := config{
		templates:    make(map[Category][]string, len(defaultTemplates)),
		elaborations: make(map[Category]string, len(defaultElaborations)),
	}
	for cat, texts := range defaultTemplates {
		c.templates[cat] = texts
	}
	for cat, text := range defaultElaborations {
		c.elaborations[cat] = text
	}
	for _, opt := range opts {
		opt(&c)
	}

	s := &Synthesizer{
		templates:    make(map[Category][]*template.Template, len(c.templates)),
		elaborations: make(map[Category]*template.Template, len(c.elaborations)),
	}
	if c.src != nil {
		s.rng = rand.New(c.src)
	}

	for cat, texts := range c.templates {
		for i, text := range texts {
			tmpl, err := template.New(fmt.Sprintf("%s-%d", cat, i)).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parse %s template %d: %w", cat, i, err)
			}
			s.templates[cat] = append(s.templates[cat], tmpl)
		}
	}
	for cat, text := range c.elaborations {
		tmpl, err := template.New(string(cat) + "-elaboration").Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s elaboration: %w", cat, err)
		}
		s.elaborations[cat] = tmpl
	}
	return s, nil
}

type templateData struct {
	Topic  string
	Prompt string
}

// Compose classifies prompt, picks one template of its category and appends
// the category elaboration. Any failure is returned as *models.InternalError.
func (s *Synthesizer) Compose(prompt string) (c Composition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.InternalError{Op: "compose text", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	cat := Classify(prompt)
	topic := Topic(prompt)

	set := s.templates[cat]
	if len(set) == 0 {
		return Composition{}, &models.InternalError{Op: "compose text", Err: fmt.Errorf("no templates for category %q", cat)}
	}
	idx := s.intN(len(set))
	data := templateData{Topic: topic, Prompt: prompt}

	var b strings.Builder
	if err := set[idx].Execute(&b, data); err != nil {
		return Composition{}, &models.InternalError{Op: "compose text", Err: err}
	}
	if el, ok := s.elaborations[cat]; ok {
		b.WriteString("\n\n")
		if err := el.Execute(&b, data); err != nil {
			return Composition{}, &models.InternalError{Op: "compose text", Err: err}
		}
	}

	text := b.String()
	return Composition{
		Text:           text,
		Category:       cat,
		Topic:          topic,
		Template:       idx,
		WordCount:      len(strings.Fields(text)),
		CharacterCount: len([]rune(text)),
	}, nil
}

func (s *Synthesizer) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Fallback is the fixed response used when composition fails.
func Fallback(topic string) string {
	return fmt.Sprintf("Here is a brief response about %s. A fuller answer is not available right now, please try again shortly.", topic)
}

// Classify returns the first category, in story, explanation, creative
// order, whose keywords appear anywhere in the prompt.
func Classify(prompt string) Category {
	lower := strings.ToLower(prompt)
	for _, rule := range categoryKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return Default
}

// Topic joins the first three non stop-word tokens of prompt.
func Topic(prompt string) string {
	tokens := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})

	kept := make([]string, 0, 3)
	for _, tok := range tokens {
		tok = strings.Trim(tok, "-'")
		if tok == "" || stopWords[tok] {
			continue
		}
		kept = append(kept, tok)
		if len(kept) == 3 {
			break
		}
	}
	if len(kept) == 0 {
		return DefaultTopic
	}
	return strings.Join(kept, " ")
}
