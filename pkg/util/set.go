package util

import (
	"fmt"
	"sort"
	"strings"
)

type Set[T comparable] struct {
	values map[T]struct{}
}

func NewSet[T comparable](values ...T) *Set[T] {
	result := &Set[T]{values: make(map[T]struct{}, len(values))}
	result.Add(values...)
	return result
}

func (s *Set[T]) Add(values ...T) {
	for _, value := range values {
		s.values[value] = struct{}{}
	}
}

func (s *Set[T]) Remove(values ...T) {
	for _, value := range values {
		delete(s.values, value)
	}
}

func (s *Set[T]) Len() int {
	return len(s.values)
}

func (s *Set[T]) Contains(value T) bool {
	_, ok := s.values[value]
	return ok
}

func (s *Set[T]) Slice() []T {
	result := make([]T, 0, len(s.values))
	for value := range s.values {
		result = append(result, value)
	}
	return result
}

func (s *Set[T]) SortedSliceFunc(less func(a, b T) bool) []T {
	result := s.Slice()
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func (s *Set[T]) String() string {
	sb := strings.Builder{}
	sb.WriteString("[")
	first := true
	for value := range s.values {
		if !first {
			sb.WriteString(" ")
		} else {
			first = false
		}
		sb.WriteString(fmt.Sprint(value))
	}
	sb.WriteString("]")
	return sb.String()
}
