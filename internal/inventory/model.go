// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inventory implements the item ledger: validated item mutations,
// each paired with append-only audit entries recording who changed what.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/radiotrack/internal/store"
)

// Sentinel errors for ledger operations.
var (
	// ErrNotFound covers a missing item, and a soft-deleted item for
	// operations that only apply to live ones. It aliases the storage
	// sentinel so row-level misses surface unchanged.
	ErrNotFound = store.ErrItemNotFound

	// ErrValidation is wrapped by ValidationError for field-level failures.
	ErrValidation = errors.New("invalid item fields")

	// ErrRestoreConflict is returned when an item's latest ledger entry is
	// not the delete being reversed.
	ErrRestoreConflict = errors.New("item mutated after delete, restore not applicable")
)

// ValidationError lists every field problem found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Conditions is the fixed closed set for the condition field.
var Conditions = []string{"Excellent", "Good", "Fair", "Poor", "NeedsOrder"}

func validCondition(c string) bool {
	for _, v := range Conditions {
		if v == c {
			return true
		}
	}
	return false
}

// Sets holds the configurable closed sets for category and location.
// Lookups are concurrent with config hot reload, hence the lock.
type Sets struct {
	mu         sync.RWMutex
	categories map[string]bool
	locations  map[string]bool
}

// NewSets builds the closed sets from slices.
func NewSets(categories, locations []string) *Sets {
	s := &Sets{}
	s.Replace(categories, locations)
	return s
}

// Replace swaps in new closed sets. Existing items keep out-of-set values;
// only new writes are validated against the current sets.
func (s *Sets) Replace(categories, locations []string) {
	cm := make(map[string]bool, len(categories))
	for _, c := range categories {
		cm[c] = true
	}
	lm := make(map[string]bool, len(locations))
	for _, l := range locations {
		lm[l] = true
	}

	s.mu.Lock()
	s.categories = cm
	s.locations = lm
	s.mu.Unlock()
}

// ValidCategory reports membership in the category set.
func (s *Sets) ValidCategory(c string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories[c]
}

// ValidLocation reports membership in the location set.
func (s *Sets) ValidLocation(l string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locations[l]
}

// Categories returns the current category set, sorted.
func (s *Sets) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.categories))
	for c := range s.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Locations returns the current location set, sorted.
func (s *Sets) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.locations))
	for l := range s.locations {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
