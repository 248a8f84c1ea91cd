package sample

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
)

type sink struct {
	store *Store
}

func (s *sink) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	for _, event := range batch {
		switch event.Kind {
		case abstract.InsertKind, abstract.UpdateKind:
			if len(event.KeyCols) > 0 {
				s.store.CreateEntity(event.Entity, "", event.KeyCols...)
			}
			s.store.Put(event.Entity, event.After)
		case abstract.DeleteKind:
			s.store.Delete(event.Entity, event.KeyValues())
		}
	}
	return nil
}

func (s *sink) Close() error {
	return nil
}

type rowStore struct {
	store *Store
}

func (s *rowStore) Get(ctx context.Context, entity abstract.Entity, key map[string]any) (map[string]any, bool, error) {
	row, found := s.store.Get(entity, key)
	return row, found, nil
}

func (s *rowStore) Close() error {
	return nil
}
