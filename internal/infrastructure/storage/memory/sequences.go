package memory

import (
	"context"
	"sort"
	"time"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/domain/numbering"
)

// Sequences is the in-memory numerator.Store. Inside a transaction an
// increment rolls back with it, so numbers stay gapless.
type Sequences struct{ s *Store }

// Take implements numerator.Store.
func (r *Sequences) Take(ctx context.Context, tenantID string, dt numerator.DocumentType, seed numerator.Config) (numerator.Taken, error) {
	var taken numerator.Taken
	err := r.s.write(ctx, func(st *state) error {
		key := counterKey{tenantID: tenantID, dt: dt}
		c, ok := st.counters[key]
		if !ok {
			c = numerator.Counter{
				TenantID:     tenantID,
				DocumentType: dt,
				NextNumber:   seed.Seed,
				Format:       seed.Format,
				Prefix:       seed.Prefix,
			}
		}
		taken = numerator.Taken{Number: c.NextNumber, Format: c.Format, Prefix: c.Prefix}
		c.NextNumber++
		c.UpdatedAt = r.s.now().UTC()
		st.counters[key] = c
		return nil
	})
	return taken, err
}

// Get implements numerator.Store.
func (r *Sequences) Get(ctx context.Context, tenantID string, dt numerator.DocumentType) (numerator.Counter, error) {
	var c numerator.Counter
	err := r.s.read(ctx, func(st *state) error {
		var ok bool
		c, ok = st.counters[counterKey{tenantID: tenantID, dt: dt}]
		if !ok {
			return numerator.ErrCounterNotFound
		}
		return nil
	})
	return c, err
}

// List implements numerator.Store.
func (r *Sequences) List(ctx context.Context, tenantID string) ([]numerator.Counter, error) {
	var out []numerator.Counter
	err := r.s.read(ctx, func(st *state) error {
		for k, c := range st.counters {
			if k.tenantID == tenantID {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentType < out[j].DocumentType })
	return out, err
}

// Ensure implements numerator.Store.
func (r *Sequences) Ensure(ctx context.Context, tenantID string, dt numerator.DocumentType, cfg numerator.Config) (bool, error) {
	created := false
	err := r.s.write(ctx, func(st *state) error {
		key := counterKey{tenantID: tenantID, dt: dt}
		if _, ok := st.counters[key]; ok {
			return nil
		}
		st.counters[key] = numerator.Counter{
			TenantID:     tenantID,
			DocumentType: dt,
			NextNumber:   cfg.Seed,
			Format:       cfg.Format,
			Prefix:       cfg.Prefix,
			UpdatedAt:    r.s.now().UTC(),
		}
		created = true
		return nil
	})
	return created, err
}

// Set implements numerator.Store.
func (r *Sequences) Set(ctx context.Context, c numerator.Counter, allowLower bool) error {
	return r.s.write(ctx, func(st *state) error {
		key := counterKey{tenantID: c.TenantID, dt: c.DocumentType}
		if cur, ok := st.counters[key]; ok && !allowLower && c.NextNumber < cur.NextNumber {
			c.NextNumber = cur.NextNumber
		}
		c.UpdatedAt = r.s.now().UTC()
		st.counters[key] = c
		return nil
	})
}

// DegradedLog is the in-memory numbering.DegradedLog.
type DegradedLog struct{ s *Store }

// Record implements numbering.DegradedLog.
func (r *DegradedLog) Record(ctx context.Context, d numbering.DegradedAllocation) error {
	return r.s.write(ctx, func(st *state) error {
		st.degraded = append(st.degraded, d)
		return nil
	})
}

// List implements numbering.DegradedLog.
func (r *DegradedLog) List(ctx context.Context, tenantID string, includeResolved bool) ([]numbering.DegradedAllocation, error) {
	var out []numbering.DegradedAllocation
	err := r.s.read(ctx, func(st *state) error {
		for _, d := range st.degraded {
			if d.TenantID == tenantID && (includeResolved || d.ResolvedAt == nil) {
				out = append(out, d)
			}
		}
		return nil
	})
	return out, err
}

// Resolve implements numbering.DegradedLog.
func (r *DegradedLog) Resolve(ctx context.Context, tenantID string, recordID id.ID, resolvedBy string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		for i, d := range st.degraded {
			if d.TenantID != tenantID || d.ID != recordID {
				continue
			}
			d.ResolvedAt = &at
			d.ResolvedBy = &resolvedBy
			st.degraded[i] = d
			return nil
		}
		return apperror.NewNotFound("degraded allocation", recordID)
	})
}
