package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/mcdev12/triviaroom/go/internal/models"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
)

// RankingRoot is the store path ranking records live under.
const RankingRoot = "weekly-ranking"

// StoreRepository keeps ranking records in the shared state store at
// weekly-ranking/{userId}.
type StoreRepository struct {
	store statestore.Store
}

// NewStoreRepository creates a StoreRepository.
func NewStoreRepository(store statestore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

func playerPath(userID string) string {
	return RankingRoot + "/" + userID
}

func (r *StoreRepository) Get(ctx context.Context, userID string) (*models.WeeklyRankingPlayer, error) {
	snap, err := r.store.Get(ctx, playerPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking record: %w", err)
	}
	if !snap.Exists {
		return nil, ErrPlayerNotFound
	}
	var p models.WeeklyRankingPlayer
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		p.UserID = userID
	}
	return &p, nil
}

func (r *StoreRepository) Put(ctx context.Context, p *models.WeeklyRankingPlayer) error {
	if p.Games == nil {
		p.Games = []models.GameRecord{}
	}
	return r.store.Set(ctx, playerPath(p.UserID), p)
}

func (r *StoreRepository) UpdateName(ctx context.Context, userID, name string) error {
	err := r.store.Transaction(ctx, playerPath(userID), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, ErrPlayerNotFound
		}
		next := make(map[string]any, len(doc))
		for k, v := range doc {
			next[k] = v
		}
		next["playerName"] = name
		return next, nil
	})
	return err
}

func (r *StoreRepository) List(ctx context.Context) ([]*models.WeeklyRankingPlayer, error) {
	snap, err := r.store.Get(ctx, RankingRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking records: %w", err)
	}
	if !snap.Exists {
		return nil, nil
	}
	byID := make(map[string]*models.WeeklyRankingPlayer)
	if err := snap.Decode(&byID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.WeeklyRankingPlayer, 0, len(ids))
	for _, id := range ids {
		p := byID[id]
		if p == nil {
			continue
		}
		if p.UserID == "" {
			p.UserID = id
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *StoreRepository) Watch(ctx context.Context, fn func()) (func(), error) {
	return r.store.Subscribe(ctx, RankingRoot, func(statestore.Snapshot) { fn() })
}
