package sample

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/doublecloud/ferry/pkg/abstract"
)

// Store is a process-local database: entities with optional order columns and
// rows keyed by their key column values. Extractor and sinker endpoints that
// name the same store share it, which is what makes hermetic end-to-end tests
// and demos possible without a real database.
type Store struct {
	mu       sync.Mutex
	entities map[abstract.Entity]*entityData

	feed chan abstract.ChangeEvent
}

type entityData struct {
	orderCol string
	keyCols  []string
	rows     map[string]map[string]any
}

var (
	storesMu sync.Mutex
	stores   = map[string]*Store{}
)

// OpenStore returns the shared store with the given name, creating it empty
// on first use.
func OpenStore(name string) *Store {
	storesMu.Lock()
	defer storesMu.Unlock()
	if store, ok := stores[name]; ok {
		return store
	}
	store := &Store{
		mu:       sync.Mutex{},
		entities: map[abstract.Entity]*entityData{},

		feed: make(chan abstract.ChangeEvent, 1024),
	}
	stores[name] = store
	return store
}

// ResetStores drops all shared stores; tests isolate themselves with it.
func ResetStores() {
	storesMu.Lock()
	defer storesMu.Unlock()
	stores = map[string]*Store{}
}

// CreateEntity declares an entity. orderCol may be empty for entities without
// a usable single-column key; such entities can only be copied whole.
func (s *Store) CreateEntity(entity abstract.Entity, orderCol string, keyCols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity]; ok {
		return
	}
	if orderCol != "" && len(keyCols) == 0 {
		keyCols = []string{orderCol}
	}
	s.entities[entity] = &entityData{
		orderCol: orderCol,
		keyCols:  keyCols,
		rows:     map[string]map[string]any{},
	}
}

func (s *Store) Put(entity abstract.Entity, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entities[entity]
	if !ok {
		data = &entityData{orderCol: "", keyCols: nil, rows: map[string]map[string]any{}}
		s.entities[entity] = data
	}
	data.rows[data.keyOf(row)] = cloneRow(row)
}

func (s *Store) Delete(entity abstract.Entity, key map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.entities[entity]; ok {
		delete(data.rows, data.keyOf(key))
	}
}

func (s *Store) Get(entity abstract.Entity, key map[string]any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entities[entity]
	if !ok {
		return nil, false
	}
	row, found := data.rows[data.keyOf(key)]
	if !found {
		return nil, false
	}
	return cloneRow(row), true
}

func (s *Store) RowCount(entity abstract.Entity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.entities[entity]; ok {
		return len(data.rows)
	}
	return 0
}

func (s *Store) EntityList() []abstract.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]abstract.Entity, 0, len(s.entities))
	for entity := range s.entities {
		result = append(result, entity)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })
	return result
}

func (s *Store) orderColOf(entity abstract.Entity) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entities[entity]
	if !ok || data.orderCol == "" {
		return "", false
	}
	return data.orderCol, true
}

// sortedRows snapshots the entity's rows ordered by the order column,
// filtered to values strictly greater than after when it is non-nil.
func (s *Store) sortedRows(entity abstract.Entity, after *string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entities[entity]
	if !ok {
		return nil
	}
	result := make([]map[string]any, 0, len(data.rows))
	for _, row := range data.rows {
		if after != nil && compareValues(fmt.Sprint(row[data.orderCol]), *after) <= 0 {
			continue
		}
		result = append(result, cloneRow(row))
	}
	if data.orderCol != "" {
		sort.Slice(result, func(i, j int) bool {
			return compareValues(fmt.Sprint(result[i][data.orderCol]), fmt.Sprint(result[j][data.orderCol])) < 0
		})
	}
	return result
}

// Feed is the change stream of the store; tests and demos script it through
// EmitChange and close it with CloseFeed.
func (s *Store) Feed() <-chan abstract.ChangeEvent {
	return s.feed
}

func (s *Store) EmitChange(event abstract.ChangeEvent) {
	s.feed <- event
}

func (s *Store) CloseFeed() {
	close(s.feed)
}

func (d *entityData) keyOf(row map[string]any) string {
	if len(d.keyCols) == 0 {
		// keyless entities store rows by full identity
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		id := ""
		for _, col := range cols {
			id += col + "=" + fmt.Sprint(row[col]) + ";"
		}
		return id
	}
	id := ""
	for _, col := range d.keyCols {
		id += col + "=" + fmt.Sprint(row[col]) + ";"
	}
	return id
}

func cloneRow(row map[string]any) map[string]any {
	result := make(map[string]any, len(row))
	for col, value := range row {
		result[col] = value
	}
	return result
}

// compareValues orders numerically when both sides parse as numbers, falling
// back to byte order. Order columns mix integer ids and opaque strings.
func compareValues(a, b string) int {
	an, aErr := strconv.ParseFloat(a, 64)
	bn, bErr := strconv.ParseFloat(b, 64)
	if aErr == nil && bErr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
