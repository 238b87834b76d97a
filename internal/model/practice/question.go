package practice

// QuestionType 题目类别。
type QuestionType string

const (
	IELTSPart1  QuestionType = "ielts_part1"
	IELTSPart2  QuestionType = "ielts_part2"
	IELTSPart3  QuestionType = "ielts_part3"
	Behavioral  QuestionType = "behavioral"
	Technical   QuestionType = "technical"
	Situational QuestionType = "situational"
)

// IsIELTS reports whether the question belongs to the IELTS speaking test.
func (t QuestionType) IsIELTS() bool {
	return t == IELTSPart1 || t == IELTSPart2 || t == IELTSPart3
}

// Question is one practice item supplied by the question bank.
type Question struct {
	ID               string       `json:"id" toml:"id"`
	Type             QuestionType `json:"type" toml:"type"`
	Category         string       `json:"category" toml:"category"`
	Prompt           string       `json:"prompt" toml:"prompt"`
	ExpectedDuration int          `json:"expectedDuration" toml:"expected-duration"` // seconds
	KeyPoints        []string     `json:"keyPoints,omitempty" toml:"key-points"`
	Tips             []string     `json:"tips,omitempty" toml:"tips"`
}
