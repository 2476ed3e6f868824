package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradeboard/internal/domain"
	"tradeboard/internal/storage"
)

var testBase = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func testRecord(id, symbol string, kind domain.RecordKind, tradeTime time.Time) *domain.TradeRecord {
	r := &domain.TradeRecord{
		ID:         id,
		Symbol:     symbol,
		EntryPrice: 100,
		Quantity:   1,
		Kind:       kind,
		TradeTime:  tradeTime,
	}
	if kind == domain.KindCompleted {
		exit := 105.0
		exitTime := tradeTime.Add(time.Hour)
		r.ExitPrice = &exit
		r.ExitTime = &exitTime
		r.Outcome = domain.OutcomeWin
	} else {
		r.Outcome = domain.OutcomeOpen
	}
	return r
}

func TestRecordCache_BulkLoadAndGet(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	records := []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
		testRecord("t2", "TSLA", domain.KindActive, testBase.Add(time.Hour)),
	}

	loaded, err := cache.BulkLoad(ctx, records)
	if err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("Expected 2 loaded, got %d", loaded)
	}

	got, err := cache.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Symbol != "AAPL" {
		t.Errorf("Symbol mismatch: got %s, want AAPL", got.Symbol)
	}
}

func TestRecordCache_GetMissing(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())

	_, err := cache.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecordCache_LookupBySymbol_CaseInsensitive(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
		testRecord("t2", "aapl", domain.KindCompleted, testBase.Add(time.Minute)),
		testRecord("t3", "TSLA", domain.KindCompleted, testBase),
	})

	got, err := cache.LookupBySymbol(ctx, "aApL")
	if err != nil {
		t.Fatalf("LookupBySymbol failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
}

func TestRecordCache_LookupByDayAndKind(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	day1 := testBase
	day2 := testBase.Add(24 * time.Hour)
	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, day1),
		testRecord("t2", "TSLA", domain.KindCompleted, day1.Add(time.Hour)),
		testRecord("t3", "MSFT", domain.KindActive, day2),
	})

	byDay, err := cache.LookupByDay(ctx, day1)
	if err != nil {
		t.Fatalf("LookupByDay failed: %v", err)
	}
	if len(byDay) != 2 {
		t.Errorf("Expected 2 records on day1, got %d", len(byDay))
	}

	active, err := cache.LookupByKind(ctx, domain.KindActive)
	if err != nil {
		t.Fatalf("LookupByKind failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "t3" {
		t.Errorf("Expected only t3 active, got %v", active)
	}
}

func TestRecordCache_All_ChronologicalOrder(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t3", "C", domain.KindCompleted, testBase.Add(2*time.Hour)),
		testRecord("t1", "A", domain.KindCompleted, testBase),
		testRecord("t2", "B", domain.KindCompleted, testBase.Add(time.Hour)),
	})

	all, err := cache.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	want := []string{"t1", "t2", "t3"}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("Position %d: got %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestRecordCache_BulkLoad_SkipsMalformed(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	bad := testRecord("t2", "TSLA", domain.KindCompleted, testBase)
	bad.Quantity = 0

	loaded, err := cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
		bad,
		nil,
	})
	if err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("Expected 1 loaded, got %d", loaded)
	}
	if got := cache.Statistics().MalformedDropped; got != 2 {
		t.Errorf("Expected 2 malformed dropped, got %d", got)
	}
}

func TestRecordCache_BulkLoad_DuplicateKeepsFirst(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	first := testRecord("t1", "AAPL", domain.KindCompleted, testBase)
	second := testRecord("t1", "TSLA", domain.KindCompleted, testBase)

	loaded, err := cache.BulkLoad(ctx, []*domain.TradeRecord{first, second})
	if err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("Expected 1 loaded, got %d", loaded)
	}

	got, _ := cache.GetByID(ctx, "t1")
	if got.Symbol != "AAPL" {
		t.Errorf("Expected first occurrence to win, got symbol %s", got.Symbol)
	}
}

func TestRecordCache_BulkLoad_CancelKeepsPreviousData(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := cache.BulkLoad(cancelled, []*domain.TradeRecord{
		testRecord("t2", "TSLA", domain.KindCompleted, testBase),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if _, err := cache.GetByID(ctx, "t1"); err != nil {
		t.Errorf("Previous dataset should survive a cancelled load: %v", err)
	}
}

func TestRecordCache_MergeIncremental_NeverOverwrites(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})

	changed := testRecord("t1", "TSLA", domain.KindCompleted, testBase)
	added, err := cache.MergeIncremental(ctx, []*domain.TradeRecord{
		changed,
		testRecord("t2", "MSFT", domain.KindActive, testBase.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("MergeIncremental failed: %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 added, got %d", added)
	}

	got, _ := cache.GetByID(ctx, "t1")
	if got.Symbol != "AAPL" {
		t.Errorf("Stored record was overwritten: got symbol %s", got.Symbol)
	}
}

func TestRecordCache_MergeIncremental_AdvancesTimestampOnEmptyDelta(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	clock := testBase
	cache.now = func() time.Time { return clock }

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})

	clock = clock.Add(2 * time.Minute)
	added, err := cache.MergeIncremental(ctx, nil)
	if err != nil {
		t.Fatalf("MergeIncremental failed: %v", err)
	}
	if added != 0 {
		t.Errorf("Expected 0 added, got %d", added)
	}
	if !cache.LastIncremental().Equal(clock) {
		t.Errorf("LastIncremental should advance on empty delta: got %v, want %v",
			cache.LastIncremental(), clock)
	}
}

func TestRecordCache_Eviction_TriggersAboveThreshold(t *testing.T) {
	cache := NewRecordCache(Config{MaxRecords: 100})
	ctx := context.Background()

	// 80 records sits exactly at the threshold: no eviction.
	records := make([]*domain.TradeRecord, 0, 100)
	for i := 0; i < 80; i++ {
		records = append(records, testRecord(
			fmt.Sprintf("t%03d", i), "AAPL", domain.KindCompleted, testBase.Add(time.Duration(i)*time.Minute)))
	}
	loaded, err := cache.BulkLoad(ctx, records)
	if err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}
	if loaded != 80 {
		t.Fatalf("Expected 80 records untouched at threshold, got %d", loaded)
	}

	// 20 more pushes occupancy past 80%: one eviction pass removes 20%.
	delta := make([]*domain.TradeRecord, 0, 20)
	for i := 80; i < 100; i++ {
		delta = append(delta, testRecord(
			fmt.Sprintf("t%03d", i), "AAPL", domain.KindCompleted, testBase.Add(time.Duration(i)*time.Minute)))
	}
	if _, err := cache.MergeIncremental(ctx, delta); err != nil {
		t.Fatalf("MergeIncremental failed: %v", err)
	}

	stats := cache.Statistics()
	if stats.Size != 80 {
		t.Errorf("Expected 80 records after evicting 20%% of 100, got %d", stats.Size)
	}
	if stats.Evictions != 20 {
		t.Errorf("Expected 20 evictions, got %d", stats.Evictions)
	}
}

func TestRecordCache_Eviction_KeepsFrequentlyAccessed(t *testing.T) {
	cache := NewRecordCache(Config{MaxRecords: 10})
	ctx := context.Background()

	records := make([]*domain.TradeRecord, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, testRecord(
			fmt.Sprintf("t%d", i), "AAPL", domain.KindCompleted, testBase.Add(time.Duration(i)*time.Minute)))
	}
	cache.BulkLoad(ctx, records)

	// Touch t0 repeatedly so its frequency score dominates.
	for i := 0; i < 5; i++ {
		cache.GetByID(ctx, "t0")
	}

	// Push past the threshold to trigger eviction.
	cache.MergeIncremental(ctx, []*domain.TradeRecord{
		testRecord("t8", "AAPL", domain.KindCompleted, testBase.Add(8*time.Minute)),
	})

	if _, err := cache.GetByID(ctx, "t0"); err != nil {
		t.Errorf("Frequently accessed record should survive eviction: %v", err)
	}
}

func TestRecordCache_IndexesConsistentAfterEviction(t *testing.T) {
	cache := NewRecordCache(Config{MaxRecords: 10})
	ctx := context.Background()

	records := make([]*domain.TradeRecord, 0, 9)
	for i := 0; i < 9; i++ {
		records = append(records, testRecord(
			fmt.Sprintf("t%d", i), "AAPL", domain.KindCompleted, testBase.Add(time.Duration(i)*time.Minute)))
	}
	cache.BulkLoad(ctx, records)

	bySymbol, err := cache.LookupBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("LookupBySymbol failed: %v", err)
	}
	if len(bySymbol) != cache.Statistics().Size {
		t.Errorf("Index drifted from arena: index has %d, arena has %d",
			len(bySymbol), cache.Statistics().Size)
	}
	for _, r := range bySymbol {
		if _, err := cache.GetByID(ctx, r.ID); err != nil {
			t.Errorf("Indexed id %s missing from arena: %v", r.ID, err)
		}
	}
}

func TestRecordCache_StateTransitions(t *testing.T) {
	cache := NewRecordCache(Config{FreshnessWindow: 5 * time.Minute})
	ctx := context.Background()

	clock := testBase
	cache.now = func() time.Time { return clock }

	if got := cache.State(); got != domain.StateCold {
		t.Errorf("Empty cache should be COLD, got %s", got)
	}

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})
	if got := cache.State(); got != domain.StateHot {
		t.Errorf("Freshly loaded cache should be HOT, got %s", got)
	}

	// No timer fires: the transition is observed lazily on read.
	clock = clock.Add(6 * time.Minute)
	if got := cache.State(); got != domain.StateWarm {
		t.Errorf("Stale cache should be WARM, got %s", got)
	}

	cache.Clear()
	if got := cache.State(); got != domain.StateCold {
		t.Errorf("Cleared cache should be COLD, got %s", got)
	}
}

func TestRecordCache_Statistics(t *testing.T) {
	cache := NewRecordCache(Config{MaxRecords: 10})
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})
	cache.GetByID(ctx, "t1")
	cache.GetByID(ctx, "missing")

	stats := cache.Statistics()
	if stats.Size != 1 {
		t.Errorf("Size: got %d, want 1", stats.Size)
	}
	if stats.Occupancy != 0.1 {
		t.Errorf("Occupancy: got %v, want 0.1", stats.Occupancy)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits/misses: got %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate: got %v, want 0.5", stats.HitRate)
	}
	if stats.MemoryBytes != recordFootprintBytes {
		t.Errorf("MemoryBytes: got %d, want %d", stats.MemoryBytes, recordFootprintBytes)
	}
}

func TestRecordCache_ClearBumpsVersionKeepsCounters(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	cache.BulkLoad(ctx, []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
	})
	cache.GetByID(ctx, "t1")

	before := cache.Version()
	cache.Clear()

	if cache.Version() <= before {
		t.Errorf("Clear should bump version: before=%d after=%d", before, cache.Version())
	}
	if got := cache.Statistics().Hits; got != 1 {
		t.Errorf("Hit counter should survive Clear, got %d", got)
	}
	if got := cache.Statistics().Size; got != 0 {
		t.Errorf("Size should be 0 after Clear, got %d", got)
	}
}

func TestRecordCache_ConcurrentBulkLoadAndLookups(t *testing.T) {
	cache := NewRecordCache(DefaultConfig())
	ctx := context.Background()

	records := []*domain.TradeRecord{
		testRecord("t1", "AAPL", domain.KindCompleted, testBase),
		testRecord("t2", "TSLA", domain.KindActive, testBase.Add(time.Hour)),
	}
	if _, err := cache.BulkLoad(ctx, records); err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cache.BulkLoad(ctx, records)
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := cache.LookupBySymbol(ctx, "AAPL"); err != nil {
			t.Errorf("LookupBySymbol: %v", err)
		}
		cache.LookupByDay(ctx, testBase)
		cache.LookupByKind(ctx, domain.KindActive)
	}
	wg.Wait()

	got, err := cache.LookupBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("LookupBySymbol after reloads: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("Lookup after concurrent reloads: got %d records", len(got))
	}
}

func TestRecordCache_Eviction_OversizedBulkLoadClampsToThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecords = 100
	cache := NewRecordCache(cfg)
	ctx := context.Background()

	records := make([]*domain.TradeRecord, 500)
	for i := range records {
		id := fmt.Sprintf("t%03d", i)
		records[i] = testRecord(id, "AAPL", domain.KindCompleted, testBase.Add(time.Duration(i)*time.Minute))
	}
	loaded, err := cache.BulkLoad(ctx, records)
	if err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}

	stats := cache.Statistics()
	if stats.Size > 80 {
		t.Errorf("Size after oversized load: got %d, want <= 80", stats.Size)
	}
	if loaded != stats.Size {
		t.Errorf("BulkLoad reported %d records, statistics say %d", loaded, stats.Size)
	}
	if want := uint64(500 - stats.Size); stats.Evictions != want {
		t.Errorf("Evictions: got %d, want %d", stats.Evictions, want)
	}

	all, err := cache.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != stats.Size {
		t.Errorf("Arena and statistics disagree: %d vs %d", len(all), stats.Size)
	}
}
