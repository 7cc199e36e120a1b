package numerator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "bizledger/internal/core/numerator"
)

type mockRow struct {
	number int64
	format string
	prefix string
	err    error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	*dest[0].(*int64) = m.number
	*dest[1].(*string) = m.format
	*dest[2].(*string) = m.prefix
	return nil
}

type counterRow struct {
	next   int64
	format string
	prefix string
}

// mockQuerier simulates the upsert of sys_sequences behind a mutex, the way
// the row lock serializes concurrent statements.
type mockQuerier struct {
	mu    sync.Mutex
	rows  map[string]*counterRow
	err   error
	calls int
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{rows: make(map[string]*counterRow)}
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return &mockRow{err: m.err}
	}

	key := args[0].(string) + "/" + args[1].(string)
	row, ok := m.rows[key]
	if !ok {
		row = &counterRow{next: args[2].(int64), format: args[3].(string), prefix: args[4].(string)}
		m.rows[key] = row
	}
	taken := row.next
	row.next++
	return &mockRow{number: taken, format: row.format, prefix: row.prefix}
}

func (m *mockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPostgresStore_TakeCreatesWithSeed(t *testing.T) {
	q := newMockQuerier()
	store := NewStaticPostgresStore(q)
	ctx := context.Background()
	seed := corenumerator.Config{Seed: 1001, Format: "AN-{number}"}

	first, err := store.Take(ctx, "acme", corenumerator.TypeQuote, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), first.Number)
	assert.Equal(t, "AN-{number}", first.Format)

	second, err := store.Take(ctx, "acme", corenumerator.TypeQuote, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1002), second.Number)

	other, err := store.Take(ctx, "globex", corenumerator.TypeQuote, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), other.Number, "tenants have independent counters")
}

func TestPostgresStore_TakeConcurrent(t *testing.T) {
	q := newMockQuerier()
	store := NewStaticPostgresStore(q)
	ctx := context.Background()
	seed := corenumerator.DefaultConfig(corenumerator.TypeInvoice)

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taken, err := store.Take(ctx, "acme", corenumerator.TypeInvoice, seed)
			assert.NoError(t, err)
			mu.Lock()
			numbers = append(numbers, taken.Number)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	require.Len(t, numbers, n)
	for i, num := range numbers {
		assert.Equal(t, int64(i+1), num)
	}
}

func TestPostgresStore_SerializationFailureIsConflict(t *testing.T) {
	q := newMockQuerier()
	q.err = &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	store := NewStaticPostgresStore(q)

	_, err := store.Take(context.Background(), "acme", corenumerator.TypeInvoice, corenumerator.DefaultConfig(corenumerator.TypeInvoice))
	require.Error(t, err)
	assert.ErrorIs(t, err, corenumerator.ErrConflict)
}

func TestPostgresStore_OtherErrorsAreNotConflicts(t *testing.T) {
	q := newMockQuerier()
	q.err = &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	store := NewStaticPostgresStore(q)

	_, err := store.Take(context.Background(), "acme", corenumerator.TypeInvoice, corenumerator.DefaultConfig(corenumerator.TypeInvoice))
	require.Error(t, err)
	assert.NotErrorIs(t, err, corenumerator.ErrConflict)
}
