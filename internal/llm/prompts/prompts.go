// Package prompts renders the question-generation and grading prompts from
// embedded templates and cleans the text that goes into them.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
	"unicode"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	loadOnce      sync.Once
	loadErr       error
	generateTmpl  *template.Template
	gradeTmpl     *template.Template
	templateFuncs = template.FuncMap{"inc": func(i int) int { return i + 1 }}
)

// GenerateData holds template data for the question-generation prompt.
type GenerateData struct {
	NumQuestions int
	Transcript   string
	Document     string
}

// StudentAnswers is one student's row in the grading transcript.
type StudentAnswers struct {
	Name    string
	Answers []string
}

// GradeData holds template data for the grading prompt.
type GradeData struct {
	Transcript string
	Document   string
	Questions  []string
	Students   []StudentAnswers
}

// Load parses the templates from fsys. A nil fsys uses the embedded templates.
// Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = templateFS
		}
		generateTmpl, loadErr = parse(fsys, "templates/generate.txt")
		if loadErr != nil {
			return
		}
		gradeTmpl, loadErr = parse(fsys, "templates/grade.txt")
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", errors.New("templates not initialized")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildQuestionPrompt asks for n questions common to both reference texts.
// The result is flattened to a single line.
func BuildQuestionPrompt(n int, transcript, document string) (string, error) {
	if err := Load(nil); err != nil {
		return "", err
	}
	out, err := execute(generateTmpl, GenerateData{NumQuestions: n, Transcript: transcript, Document: document})
	if err != nil {
		return "", err
	}
	return Clean(out), nil
}

// BuildGradePrompt renders the grading prompt. Reference texts, questions and
// answers are passed through Sanitize.
func BuildGradePrompt(d GradeData) (string, error) {
	if err := Load(nil); err != nil {
		return "", err
	}
	clean := GradeData{
		Transcript: Sanitize(d.Transcript),
		Document:   Sanitize(d.Document),
		Questions:  make([]string, len(d.Questions)),
		Students:   make([]StudentAnswers, len(d.Students)),
	}
	for i, q := range d.Questions {
		clean.Questions[i] = Sanitize(q)
	}
	for i, s := range d.Students {
		row := StudentAnswers{Name: Sanitize(s.Name), Answers: make([]string, len(s.Answers))}
		for j, a := range s.Answers {
			row.Answers[j] = Sanitize(a)
		}
		clean.Students[i] = row
	}
	return execute(gradeTmpl, clean)
}

var cleaner = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", `"`, "'")

// Clean replaces line breaks and tabs with spaces and double quotes with single quotes.
func Clean(s string) string {
	return strings.TrimSpace(cleaner.Replace(s))
}

const allowedPunct = ".,;:!?'\"()-/%"

// Sanitize keeps letters, digits, whitespace and a small punctuation set,
// drops everything else and collapses whitespace runs to a single space.
func Sanitize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(allowedPunct, r):
		default:
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// SplitQuestions turns raw model output into question strings: one per
// non-blank line, with the first line (the model's preamble) dropped.
func SplitQuestions(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= 1 {
		return []string{}
	}
	return lines[1:]
}
