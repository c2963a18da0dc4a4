// Package mib provides the registered management information tree: a trie
// keyed by OID arcs supporting exact and lexicographic-successor lookup.
package mib

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/geekxflood/proteus/internal/types"
)

// ErrAlreadyRegistered is returned by Insert when the OID already has an entry.
var ErrAlreadyRegistered = errors.New("OID already registered")

// Getter returns the current value of a managed object. The value must be of
// a Go type ber.EncodeValue accepts for the entry's type.
type Getter func(oid types.OID) (any, error)

// Setter stores a new value for a managed object from raw content bytes.
type Setter func(oid types.OID, value []byte) error

// Entry is a registered managed object. Entries are immutable once inserted.
type Entry struct {
	OID  types.OID
	Type byte
	Get  Getter
	Set  Setter
}

// node is one trie level. Children are kept sorted by arc.
type node struct {
	arc      uint32
	children []*node
	entry    *Entry
}

// Store is a sorted OID trie. It is safe for concurrent use; lookups take a
// read lock and never observe a partially linked level.
type Store struct {
	mu    sync.RWMutex
	root  *node
	count int
}

// New creates an empty Store.
func New() *Store {
	return &Store{root: &node{}}
}

func compareArc(n *node, arc uint32) int {
	return cmp.Compare(n.arc, arc)
}

// child returns the child with the given arc and the index where it is, or
// would be inserted.
func (n *node) child(arc uint32) (*node, int) {
	i, found := slices.BinarySearchFunc(n.children, arc, compareArc)
	if !found {
		return nil, i
	}
	return n.children[i], i
}

// Insert registers oid with its object type and accessors. Missing trie
// levels are created; an existing entry is never overwritten.
func (s *Store) Insert(oid types.OID, objectType byte, get Getter, set Setter) error {
	if len(oid) == 0 || len(oid) > types.MaxOIDArcs {
		return fmt.Errorf("OID %q must have 1 to %d arcs: %w", oid.String(), types.MaxOIDArcs, types.ErrInvalidArgument)
	}
	if get == nil {
		return fmt.Errorf("OID %s registered without a getter: %w", oid, types.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.root
	for _, arc := range oid {
		c, i := n.child(arc)
		if c == nil {
			c = &node{arc: arc}
			n.children = slices.Insert(n.children, i, c)
		}
		n = c
	}

	if n.entry != nil {
		return fmt.Errorf("%s: %w", oid, ErrAlreadyRegistered)
	}
	n.entry = &Entry{OID: oid.Copy(), Type: objectType, Get: get, Set: set}
	s.count++
	return nil
}

// lookup returns the node for oid, or nil if any arc is missing.
func (s *Store) lookup(oid types.OID) *node {
	n := s.root
	for _, arc := range oid {
		if n = childOf(n, arc); n == nil {
			return nil
		}
	}
	return n
}

func childOf(n *node, arc uint32) *node {
	c, _ := n.child(arc)
	return c
}

// FindExact returns the entry registered at exactly oid. Intermediate trie
// levels without an entry are reported as absent.
func (s *Store) FindExact(oid types.OID) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lookup(oid)
	if n == nil || n.entry == nil {
		return nil, false
	}
	return n.entry, true
}

// FindNext returns the smallest registered entry strictly greater than oid
// in lexicographic arc order, whether or not oid itself is in the trie.
func (s *Store) FindNext(oid types.OID) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := next(s.root, oid, 0)
	return e, e != nil
}

// next searches below n, which stands for oid[:depth].
func next(n *node, oid types.OID, depth int) *Entry {
	if depth == len(oid) {
		for _, c := range n.children {
			if e := first(c); e != nil {
				return e
			}
		}
		return nil
	}

	c, i := n.child(oid[depth])
	if c != nil {
		if e := next(c, oid, depth+1); e != nil {
			return e
		}
		i++
	}
	for _, c := range n.children[i:] {
		if e := first(c); e != nil {
			return e
		}
	}
	return nil
}

// first returns the smallest entry at or below n.
func first(n *node) *Entry {
	if n.entry != nil {
		return n.entry
	}
	for _, c := range n.children {
		if e := first(c); e != nil {
			return e
		}
	}
	return nil
}

// Walk calls fn for every entry in ascending OID order and stops at the
// first error. fn runs under the read lock and must not call Insert or Free.
func (s *Store) Walk(fn func(*Entry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return walk(s.root, fn)
}

func walk(n *node, fn func(*Entry) error) error {
	if n.entry != nil {
		if err := fn(n.entry); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Free drops every entry and trie level.
func (s *Store) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	free(s.root)
	s.root = &node{}
	s.count = 0
}

func free(n *node) {
	for _, c := range n.children {
		free(c)
	}
	n.children = nil
	n.entry = nil
}
