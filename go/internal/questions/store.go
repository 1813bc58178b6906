// Package questions is the local question bank and the code that turns a
// game's question source into the ordered list stored in a room.
package questions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
	"gopkg.in/yaml.v3"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrNoQuestions     = errors.New("no questions available")
)

// Store reads immutable question content.
type Store interface {
	Subjects(ctx context.Context) ([]models.Subject, error)
	RandomQuestions(ctx context.Context, subjectID int64, count int) ([]models.Question, error)
	Answers(ctx context.Context, questionID int64) ([]models.Answer, error)
}

// Bank is the YAML form of a question bank.
type Bank struct {
	Subjects []BankSubject `yaml:"subjects"`
}

// BankSubject is one subject in a Bank.
type BankSubject struct {
	Name      string         `yaml:"name"`
	Questions []BankQuestion `yaml:"questions"`
}

// BankQuestion is one question in a Bank.
type BankQuestion struct {
	Text    string       `yaml:"text"`
	Answers []BankAnswer `yaml:"answers"`
}

// BankAnswer is one answer option in a Bank.
type BankAnswer struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// ParseBank decodes a YAML question bank and checks that every question has
// exactly one correct answer.
func ParseBank(r io.Reader) (*Bank, error) {
	var b Bank
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode question bank: %w", err)
	}
	for _, s := range b.Subjects {
		if s.Name == "" {
			return nil, fmt.Errorf("subject without a name")
		}
		for _, q := range s.Questions {
			correct := 0
			for _, a := range q.Answers {
				if a.Correct {
					correct++
				}
			}
			if correct != 1 || len(q.Answers) < 2 {
				return nil, fmt.Errorf("question %q in %s needs at least two answers and exactly one correct", q.Text, s.Name)
			}
		}
	}
	return &b, nil
}

// LoadBankFile reads a YAML question bank from disk.
func LoadBankFile(path string) (*Bank, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open question bank: %w", err)
	}
	defer f.Close()
	return ParseBank(f)
}

// MemoryStore serves a Bank from memory. Ids are assigned in file order.
type MemoryStore struct {
	mu        sync.Mutex
	rng       *rand.Rand
	subjects  []models.Subject
	questions map[int64][]models.Question
	answers   map[int64][]models.Answer
}

// NewMemoryStore indexes b. A nil rng uses a time-seeded source.
func NewMemoryStore(b *Bank, rng *rand.Rand) *MemoryStore {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	s := &MemoryStore{
		rng:       rng,
		questions: make(map[int64][]models.Question),
		answers:   make(map[int64][]models.Answer),
	}
	created := time.Now().UTC().Format(time.RFC3339)
	var qid, aid int64
	for i, bs := range b.Subjects {
		sid := int64(i + 1)
		for _, bq := range bs.Questions {
			qid++
			q := models.Question{ID: qid, SubjectID: sid, Text: bq.Text, CreatedAt: created}
			for _, ba := range bq.Answers {
				aid++
				if ba.Correct {
					q.CorrectAnswerID = aid
				}
				s.answers[qid] = append(s.answers[qid], models.Answer{
					ID:         aid,
					QuestionID: qid,
					Text:       ba.Text,
					IsCorrect:  ba.Correct,
				})
			}
			s.questions[sid] = append(s.questions[sid], q)
		}
		s.subjects = append(s.subjects, models.Subject{
			ID:            sid,
			Name:          bs.Name,
			CreatedAt:     created,
			QuestionCount: len(bs.Questions),
		})
	}
	return s
}

func (s *MemoryStore) Subjects(ctx context.Context) ([]models.Subject, error) {
	out := make([]models.Subject, len(s.subjects))
	copy(out, s.subjects)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) RandomQuestions(ctx context.Context, subjectID int64, count int) ([]models.Question, error) {
	qs, ok := s.questions[subjectID]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	out := make([]models.Question, len(qs))
	copy(out, qs)

	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()

	if count >= 0 && count < len(out) {
		out = out[:count]
	}
	return out, nil
}

func (s *MemoryStore) Answers(ctx context.Context, questionID int64) ([]models.Answer, error) {
	as := s.answers[questionID]
	out := make([]models.Answer, len(as))
	copy(out, as)
	return out, nil
}
