package usecase

import (
	"regexp"
	"strings"
)

const (
	DebateFormat  = "Debate: [topic]. Take side: [stance]"
	DebateExample = "Debate: Artificial intelligence will replace all human jobs. Take side: you agree"

	msgMissingKeywords = `Invalid format. Please use: "Debate: [topic]. Take side: [stance]"`
	msgEmptyField      = "Topic and stance cannot be empty. Please provide both."
)

// FormatProblem tells a caller why an opening message was rejected.
type FormatProblem string

const (
	ProblemNone            FormatProblem = ""
	ProblemMissingKeywords FormatProblem = "missing_keywords"
	ProblemEmptyField      FormatProblem = "empty_field"
)

var (
	topicPattern  = regexp.MustCompile(`(?i)Debate:\s*(.*?)\.?\s*Take side:`)
	stancePattern = regexp.MustCompile(`(?i)Take side:\s*(.*)`)
)

// FormatResult is the outcome of ValidateDebateFormat. Error, Example and
// Format are only set when IsValid is false.
type FormatResult struct {
	IsValid bool
	Topic   string
	Stance  string
	Problem FormatProblem
	Error   string
	Example string
	Format  string
}

// ValidateDebateFormat parses "Debate: <topic>. Take side: <stance>". Keywords
// match case-insensitively and only the first occurrence counts.
func ValidateDebateFormat(message string) FormatResult {
	topicMatch := topicPattern.FindStringSubmatch(message)
	stanceMatch := stancePattern.FindStringSubmatch(message)
	if topicMatch == nil || stanceMatch == nil {
		return formatFailure(ProblemMissingKeywords, msgMissingKeywords)
	}

	topic := strings.TrimSpace(topicMatch[1])
	stance := strings.TrimSpace(stanceMatch[1])
	if topic == "" || stance == "" {
		return formatFailure(ProblemEmptyField, msgEmptyField)
	}
	return FormatResult{IsValid: true, Topic: topic, Stance: stance}
}

func formatFailure(problem FormatProblem, msg string) FormatResult {
	return FormatResult{
		Problem: problem,
		Error:   msg,
		Example: DebateExample,
		Format:  DebateFormat,
	}
}
