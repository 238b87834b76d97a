package question

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

// ErrNotFound is returned when a question id is unknown to the bank.
var ErrNotFound = errors.New("question not found")

// Store exposes question retrieval for handlers and the terminal client.
type Store interface {
	List() []practice.Question
	FindByID(id string) (practice.Question, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []practice.Question
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied questions.
func NewMemoryStore(items []practice.Question) *MemoryStore {
	return &MemoryStore{items: append([]practice.Question(nil), items...)}
}

// List returns every question in bank order.
func (s *MemoryStore) List() []practice.Question {
	return append([]practice.Question(nil), s.items...)
}

// FindByID looks up a question by identifier.
func (s *MemoryStore) FindByID(id string) (practice.Question, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return practice.Question{}, false
}

// Filter returns the questions of the given type, or all questions when qType is empty.
func (s *MemoryStore) Filter(qType practice.QuestionType) []practice.Question {
	if qType == "" {
		return s.List()
	}
	out := make([]practice.Question, 0, len(s.items))
	for _, item := range s.items {
		if item.Type == qType {
			out = append(out, item)
		}
	}
	return out
}

type bankFile struct {
	Questions []practice.Question `toml:"question"`
}

// LoadFile 从 TOML 题库文件加载题目。文件不存在时返回 os.ErrNotExist。
func LoadFile(path string) ([]practice.Question, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("question bank path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var bank bankFile
	if _, err := toml.DecodeFile(path, &bank); err != nil {
		return nil, fmt.Errorf("failed to decode question bank: %w", err)
	}

	seen := make(map[string]struct{}, len(bank.Questions))
	for i, q := range bank.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return nil, fmt.Errorf("question #%d has no id", i+1)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.ExpectedDuration <= 0 {
			bank.Questions[i].ExpectedDuration = defaultDuration(q.Type)
		}
	}
	return bank.Questions, nil
}

func defaultDuration(t practice.QuestionType) int {
	switch t {
	case practice.IELTSPart1:
		return 30
	case practice.IELTSPart2:
		return 120
	case practice.IELTSPart3:
		return 60
	default:
		return 90
	}
}
