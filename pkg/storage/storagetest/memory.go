package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/storage"
)

// MemoryStore is an in-memory storage.DurableStore for tests. A nil
// Summaries map or Logs slice means that legacy table does not exist, and
// reads of tables listed in BrokenTables fail. TableErrs overrides the error a
// table read returns, and FailAfterPK makes reads of a table fail once paging
// has passed the given primary key.
type MemoryStore struct {
	mu sync.Mutex

	ContentTypes []contenttypes.ContentType
	Summaries    map[int64]string
	Logs         []storage.LegacyLog
	Tables       []storage.TableDescriptor
	TableRows    map[string][]storage.MixinRow
	BrokenTables map[string]bool
	TableErrs    map[string]error
	FailAfterPK  map[string]int64
	LogsErr      error

	Events     map[string]api.ViewEvent
	Statistics map[[2]int64]api.ObjectStatistics
	Registry   map[int64]api.RegistryEntry

	SchemaCalls  int
	Writes       int
	EventInserts int
}

var _ storage.DurableStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store whose legacy tables do not exist.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		TableRows:    make(map[string][]storage.MixinRow),
		BrokenTables: make(map[string]bool),
		TableErrs:    make(map[string]error),
		FailAfterPK:  make(map[string]int64),
		Events:       make(map[string]api.ViewEvent),
		Statistics:   make(map[[2]int64]api.ObjectStatistics),
		Registry:     make(map[int64]api.RegistryEntry),
	}
}

func (m *MemoryStore) ContentTypeByID(ctx context.Context, id int64) (contenttypes.ContentType, error) {
	for _, ct := range m.ContentTypes {
		if ct.ID == id {
			return ct, nil
		}
	}
	return contenttypes.ContentType{}, contenttypes.ErrNotFound
}

func (m *MemoryStore) ContentTypeByNaturalKey(ctx context.Context, appLabel, model string) (contenttypes.ContentType, error) {
	for _, ct := range m.ContentTypes {
		if ct.AppLabel == appLabel && strings.EqualFold(ct.Model, model) {
			return ct, nil
		}
	}
	return contenttypes.ContentType{}, contenttypes.ErrNotFound
}

func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	m.SchemaCalls++
	return nil
}

func (m *MemoryStore) Counts(ctx context.Context) (storage.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return storage.Counts{
		Events:     int64(len(m.Events)),
		Statistics: int64(len(m.Statistics)),
		Registry:   int64(len(m.Registry)),
	}, nil
}

func (m *MemoryStore) LegacySummaryTypes(ctx context.Context) ([]string, error) {
	if m.Summaries == nil {
		return nil, fmt.Errorf("%w: insight_pageviewsummary", storage.ErrTableNotFound)
	}
	var values []string
	for _, v := range m.Summaries {
		if !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

func (m *MemoryStore) CountLegacySummaries(ctx context.Context, contentType string) (int64, error) {
	var n int64
	for _, v := range m.Summaries {
		if v == contentType {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RewriteLegacySummaryType(ctx context.Context, from, to string) (int64, error) {
	m.Writes++
	var n int64
	for id, v := range m.Summaries {
		if v == from {
			m.Summaries[id] = to
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LegacyLogs(ctx context.Context, afterID int64, limit int) ([]storage.LegacyLog, error) {
	if m.LogsErr != nil {
		return nil, m.LogsErr
	}
	if m.Logs == nil {
		return nil, fmt.Errorf("%w: insight_pageviewlog", storage.ErrTableNotFound)
	}
	sorted := slices.Clone(m.Logs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var page []storage.LegacyLog
	for _, l := range sorted {
		if l.ID > afterID && len(page) < limit {
			page = append(page, l)
		}
	}
	return page, nil
}

func (m *MemoryStore) DiscoverStatisticsTables(ctx context.Context) ([]storage.TableDescriptor, error) {
	return m.Tables, nil
}

func (m *MemoryStore) MixinRows(ctx context.Context, table storage.TableDescriptor, afterPK int64, limit int) ([]storage.MixinRow, error) {
	name := table.QualifiedName()
	if err, ok := m.TableErrs[name]; ok {
		return nil, err
	}
	if m.BrokenTables[name] {
		return nil, errors.New("permission denied")
	}
	if after, ok := m.FailAfterPK[name]; ok && afterPK >= after {
		return nil, fmt.Errorf("failed to read %s after %d: connection reset by peer", name, afterPK)
	}
	rows := slices.Clone(m.TableRows[name])
	sort.Slice(rows, func(i, j int) bool { return rows[i].PK < rows[j].PK })

	var page []storage.MixinRow
	for _, r := range rows {
		if r.PK > afterPK && len(page) < limit {
			page = append(page, r)
		}
	}
	return page, nil
}

func (m *MemoryStore) InsertEvents(ctx context.Context, events []api.ViewEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	m.EventInserts++

	var n int64
	for _, e := range events {
		if _, ok := m.Events[e.ViewID]; ok {
			continue
		}
		e.ID = int64(len(m.Events) + 1)
		m.Events[e.ViewID] = e
		n++
	}
	return n, nil
}

func (m *MemoryStore) InsertStatistics(ctx context.Context, stats []api.ObjectStatistics) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++

	var n int64
	for _, st := range stats {
		key := [2]int64{st.ContentTypeID, st.ObjectID}
		if _, ok := m.Statistics[key]; ok {
			continue
		}
		m.Statistics[key] = st
		n++
	}
	return n, nil
}

func (m *MemoryStore) UpsertRegistry(ctx context.Context, entries []api.RegistryEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++

	var n int64
	for _, e := range entries {
		if _, ok := m.Registry[e.ContentTypeID]; ok {
			continue
		}
		m.Registry[e.ContentTypeID] = e
		n++
	}
	return n, nil
}

func (m *MemoryStore) EventContentTypes(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, e := range m.Events {
		if !slices.Contains(ids, e.ContentTypeID) {
			ids = append(ids, e.ContentTypeID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) StatisticsContentTypes(ctx context.Context) ([]int64, error) {
	var ids []int64
	for key := range m.Statistics {
		if !slices.Contains(ids, key[0]) {
			ids = append(ids, key[0])
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) UpsertStatistics(ctx context.Context, delta storage.StatisticsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	key := [2]int64{delta.ContentTypeID, delta.ObjectID}
	st := m.Statistics[key]
	st.ContentTypeID, st.ObjectID = delta.ContentTypeID, delta.ObjectID
	st.TotalViews += delta.TotalViews
	st.UniqueViews = min(st.UniqueViews+delta.UniqueViews, st.TotalViews)
	m.Statistics[key] = st
	return nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
