package questions

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mcdev12/triviaroom/go/internal/models"
)

// Source says where a game's questions come from. It is either
// PreparedQuestions or SubjectSelection.
type Source interface {
	isSource()
}

// PreparedQuestions is a fixed list, e.g. from a shared quiz link.
type PreparedQuestions struct {
	Questions []models.GameQuestion
}

// SubjectPick asks for Count random questions from one subject.
type SubjectPick struct {
	SubjectID int64 `json:"subjectId"`
	Count     int   `json:"count"`
}

// SubjectSelection draws questions from the local store.
type SubjectSelection struct {
	Picks []SubjectPick
}

func (PreparedQuestions) isSource() {}
func (SubjectSelection) isSource()  {}

// Resolver turns a Source into the canonical question list of one game.
type Resolver struct {
	store Store

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a Resolver. A nil rng uses a time-seeded source.
func NewResolver(store Store, rng *rand.Rand) *Resolver {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return &Resolver{store: store, rng: rng}
}

// Resolve collects the questions of src, shuffles each question's answers
// once, shuffles the question order and keeps at most limit questions
// (limit <= 0 keeps all). Every client then sees the same order.
func (r *Resolver) Resolve(ctx context.Context, src Source, limit int) ([]models.GameQuestion, error) {
	var all []models.GameQuestion
	switch s := src.(type) {
	case PreparedQuestions:
		all = make([]models.GameQuestion, len(s.Questions))
		for i, q := range s.Questions {
			all[i] = models.GameQuestion{
				Question: q.Question,
				Answers:  append([]models.Answer(nil), q.Answers...),
			}
		}
	case SubjectSelection:
		if r.store == nil {
			return nil, fmt.Errorf("%w: no question store configured", ErrNoQuestions)
		}
		for _, pick := range s.Picks {
			qs, err := r.store.RandomQuestions(ctx, pick.SubjectID, pick.Count)
			if err != nil {
				return nil, fmt.Errorf("failed to load questions for subject %d: %w", pick.SubjectID, err)
			}
			for _, q := range qs {
				answers, err := r.store.Answers(ctx, q.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to load answers for question %d: %w", q.ID, err)
				}
				all = append(all, models.GameQuestion{Question: q, Answers: answers})
			}
		}
	default:
		return nil, fmt.Errorf("unsupported question source %T", src)
	}

	if len(all) == 0 {
		return nil, ErrNoQuestions
	}

	r.mu.Lock()
	for i := range all {
		a := all[i].Answers
		r.rng.Shuffle(len(a), func(x, y int) { a[x], a[y] = a[y], a[x] })
	}
	r.rng.Shuffle(len(all), func(x, y int) { all[x], all[y] = all[y], all[x] })
	r.mu.Unlock()

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// SubjectNames returns the names of the subjects picked in sel, in pick
// order, for display on the room.
func SubjectNames(ctx context.Context, store Store, sel SubjectSelection) ([]string, error) {
	subjects, err := store.Subjects(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]string, len(subjects))
	for _, s := range subjects {
		byID[s.ID] = s.Name
	}
	names := make([]string, 0, len(sel.Picks))
	for _, p := range sel.Picks {
		if n, ok := byID[p.SubjectID]; ok {
			names = append(names, n)
		}
	}
	return names, nil
}
