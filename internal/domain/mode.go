package domain

import (
	"errors"
	"strings"
)

// ErrEmptyInstructions is returned by a custom mode whose source holds no text.
var ErrEmptyInstructions = errors.New("custom mode has no instructions")

// Mode controls the structure of the polished document.
// It is either a TemplateMode or a CustomMode.
type Mode interface {
	ID() string
	Name() string
	Instructions() (string, error)
	isMode()
}

// InstructionSource supplies user-edited instructions at call time.
type InstructionSource interface {
	CustomInstructions() (string, error)
}

// TemplateMode carries a fixed instruction template.
type TemplateMode struct {
	id       string
	name     string
	template string
}

func NewTemplateMode(id, name, template string) TemplateMode {
	return TemplateMode{id: id, name: name, template: template}
}

func (m TemplateMode) ID() string                    { return m.id }
func (m TemplateMode) Name() string                  { return m.name }
func (m TemplateMode) Instructions() (string, error) { return m.template, nil }
func (TemplateMode) isMode()                         {}

// CustomMode reads its instructions from an external source every time
// they are needed, so edits apply to the next polish without touching
// any shared template.
type CustomMode struct {
	id     string
	name   string
	source InstructionSource
}

func NewCustomMode(id, name string, source InstructionSource) CustomMode {
	return CustomMode{id: id, name: name, source: source}
}

func (m CustomMode) ID() string   { return m.id }
func (m CustomMode) Name() string { return m.name }
func (CustomMode) isMode()        {}

func (m CustomMode) Instructions() (string, error) {
	if m.source == nil {
		return "", ErrEmptyInstructions
	}
	text, err := m.source.CustomInstructions()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInstructions
	}
	return text, nil
}
