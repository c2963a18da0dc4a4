package mib

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/types"
)

func constGetter(v any) Getter {
	return func(types.OID) (any, error) { return v, nil }
}

func newTestStore(t *testing.T, oids ...string) *Store {
	t.Helper()
	s := New()
	for _, o := range oids {
		require.NoError(t, s.Insert(types.MustParseOID(o), types.TypeOctetString, constGetter(o), nil))
	}
	return s
}

var systemGroup = []string{
	"1.3.6.1.2.1.1.1.0",
	"1.3.6.1.2.1.1.2.0",
	"1.3.6.1.2.1.1.3.0",
	"1.3.6.1.2.1.1.4.0",
	"1.3.6.1.2.1.1.5.0",
	"1.3.6.1.2.1.1.6.0",
	"1.3.6.1.2.1.1.7.0",
	"1.3.6.1.2.1.2.1.0",
	"1.3.6.1.4.1.34334.1.1",
	"1.3.6.1.4.1.34334.1.10",
	"1.3.6.1.4.1.34334.1.2",
}

func TestInsertAndFindExact(t *testing.T) {
	s := newTestStore(t, systemGroup...)
	assert.Equal(t, len(systemGroup), s.Len())

	for _, o := range systemGroup {
		e, ok := s.FindExact(types.MustParseOID(o))
		require.True(t, ok, o)
		assert.Equal(t, o, e.OID.String())
		assert.Equal(t, byte(types.TypeOctetString), e.Type)

		v, err := e.Get(e.OID)
		require.NoError(t, err)
		assert.Equal(t, o, v)
	}
}

func TestFindExactMisses(t *testing.T) {
	s := newTestStore(t, systemGroup...)

	for _, o := range []string{
		"1.3.6.1.2.1.1",       // intermediate level
		"1.3.6.1.2.1.1.1",     // intermediate level
		"1.3.6.1.2.1.1.1.0.1", // below a leaf
		"1.3.6.1.2.1.1.8.0",   // missing arc
		"2.1",
	} {
		_, ok := s.FindExact(types.MustParseOID(o))
		assert.False(t, ok, o)
	}

	_, ok := s.FindExact(types.OID{})
	assert.False(t, ok)
}

func TestFindExactIdempotent(t *testing.T) {
	s := newTestStore(t, systemGroup...)
	oid := types.MustParseOID("1.3.6.1.2.1.1.5.0")

	e1, ok1 := s.FindExact(oid)
	e2, ok2 := s.FindExact(oid)
	assert.Equal(t, ok1, ok2)
	assert.Same(t, e1, e2)
	assert.Equal(t, len(systemGroup), s.Len())
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t, "1.3.6.1.2.1.1.1.0")
	oid := types.MustParseOID("1.3.6.1.2.1.1.1.0")

	err := s.Insert(oid, types.TypeInteger, constGetter(1), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))

	e, ok := s.FindExact(oid)
	require.True(t, ok)
	assert.Equal(t, byte(types.TypeOctetString), e.Type, "existing entry is kept")
	assert.Equal(t, 1, s.Len())
}

func TestInsertOnIntermediateLevel(t *testing.T) {
	s := newTestStore(t, "1.3.6.1.2.1.1.1.0")
	require.NoError(t, s.Insert(types.MustParseOID("1.3.6.1.2.1.1"), types.TypeNull, constGetter(nil), nil))

	e, ok := s.FindExact(types.MustParseOID("1.3.6.1.2.1.1"))
	require.True(t, ok)
	assert.Equal(t, byte(types.TypeNull), e.Type)

	_, ok = s.FindExact(types.MustParseOID("1.3.6.1.2.1.1.1.0"))
	assert.True(t, ok)
}

func TestInsertInvalid(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Insert(types.OID{}, types.TypeInteger, constGetter(1), nil), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.Insert(make(types.OID, types.MaxOIDArcs+1), types.TypeInteger, constGetter(1), nil), types.ErrInvalidArgument)
	assert.ErrorIs(t, s.Insert(types.MustParseOID("1.3.6"), types.TypeInteger, nil, nil), types.ErrInvalidArgument)
	assert.Zero(t, s.Len())
}

func TestInsertCopiesOID(t *testing.T) {
	s := New()
	oid := types.MustParseOID("1.3.6.1")
	require.NoError(t, s.Insert(oid, types.TypeInteger, constGetter(1), nil))
	oid[3] = 9

	e, ok := s.FindExact(types.MustParseOID("1.3.6.1"))
	require.True(t, ok)
	assert.Equal(t, "1.3.6.1", e.OID.String())
}

func TestArcsAreNotAliased(t *testing.T) {
	s := newTestStore(t, "1.3.6.1", "2.3.6.1")

	e, ok := s.FindExact(types.MustParseOID("2.3.6.1"))
	require.True(t, ok)
	assert.Equal(t, "2.3.6.1", e.OID.String())
	assert.Equal(t, 2, s.Len())
}

func TestFindNext(t *testing.T) {
	s := newTestStore(t, systemGroup...)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"from registered leaf", "1.3.6.1.2.1.1.1.0", "1.3.6.1.2.1.1.2.0"},
		{"from intermediate level", "1.3.6.1.2.1.1", "1.3.6.1.2.1.1.1.0"},
		{"from prefix", "1.3", "1.3.6.1.2.1.1.1.0"},
		{"diverges below", "1.3.6.1.2.1.1.3.5", "1.3.6.1.2.1.1.4.0"},
		{"diverges between siblings", "1.3.6.1.2.1.1.7.0.0", "1.3.6.1.2.1.2.1.0"},
		{"from parent of a leaf", "1.3.6.1.2.1.1.4", "1.3.6.1.2.1.1.4.0"},
		{"skips to next subtree", "1.3.6.1.2.1.3", "1.3.6.1.4.1.34334.1.1"},
		{"numeric not textual order", "1.3.6.1.4.1.34334.1.2", "1.3.6.1.4.1.34334.1.10"},
		{"before everything", "0.0", "1.3.6.1.2.1.1.1.0"},
		{"empty", "", "1.3.6.1.2.1.1.1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var query types.OID
			if tt.query != "" {
				query = types.MustParseOID(tt.query)
			}
			e, ok := s.FindNext(query)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.OID.String())
		})
	}
}

func TestFindNextEndOfView(t *testing.T) {
	s := newTestStore(t, systemGroup...)
	for _, q := range []string{"1.3.6.1.4.1.34334.1.10", "1.3.6.1.4.1.34334.2", "1.4", "2.0"} {
		_, ok := s.FindNext(types.MustParseOID(q))
		assert.False(t, ok, q)
	}

	_, ok := New().FindNext(types.MustParseOID("0.0"))
	assert.False(t, ok)
}

func TestFindNextVisitsEveryLeafInOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	s := New()
	var want []types.OID
	for len(want) < 300 {
		n := 2 + rng.IntN(8)
		oid := make(types.OID, n)
		for i := range oid {
			oid[i] = uint32(rng.IntN(4))
		}
		oid[0] = 1 + uint32(rng.IntN(2))
		// Leaves only: skip OIDs that are a prefix of, or extend, a registered one.
		clash := false
		for _, w := range want {
			if w.HasPrefix(oid) || oid.HasPrefix(w) {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		require.NoError(t, s.Insert(oid, types.TypeInteger, constGetter(0), nil))
		want = append(want, oid)
	}
	slices.SortFunc(want, types.OID.Compare)

	var got []types.OID
	cur := types.OID{0, 0}
	for {
		e, ok := s.FindNext(cur)
		if !ok {
			break
		}
		got = append(got, e.OID)
		cur = e.OID
	}
	assert.Equal(t, want, got)
}

func TestWalk(t *testing.T) {
	s := newTestStore(t, systemGroup...)

	var got []string
	require.NoError(t, s.Walk(func(e *Entry) error {
		got = append(got, e.OID.String())
		return nil
	}))

	want := slices.Clone(systemGroup)
	slices.SortFunc(want, func(a, b string) int {
		return types.MustParseOID(a).Compare(types.MustParseOID(b))
	})
	assert.Equal(t, want, got)

	stop := errors.New("stop")
	count := 0
	err := s.Walk(func(*Entry) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestFree(t *testing.T) {
	s := newTestStore(t, systemGroup...)
	s.Free()

	assert.Zero(t, s.Len())
	_, ok := s.FindExact(types.MustParseOID(systemGroup[0]))
	assert.False(t, ok)

	require.NoError(t, s.Insert(types.MustParseOID(systemGroup[0]), types.TypeInteger, constGetter(1), nil))
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentLookups(t *testing.T) {
	s := newTestStore(t, systemGroup...)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = s.FindNext(types.MustParseOID(systemGroup[j%len(systemGroup)]))
				_ = s.Insert(types.OID{1, 3, 6, 1, 4, 1, 99, uint32(i), uint32(j)}, types.TypeInteger, constGetter(j), nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(systemGroup)+8*200, s.Len())
}
