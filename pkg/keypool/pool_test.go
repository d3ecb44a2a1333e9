package keypool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/storage"
)

func keys(specs ...KeyRecord) []KeyRecord { return specs }

func key(id string, weight int) KeyRecord {
	return KeyRecord{ID: id, Weight: weight, Enabled: true, MaxRequestsPerMinute: 60, Credential: "sk-" + id}
}

func newTestPool(t *testing.T, ks ...KeyRecord) (*Pool, *audit.Log) {
	t.Helper()
	log := audit.NewLog(storage.NewMemoryStorage(), audit.LogOptions{})
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	p, err := New(ks, log, WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, log
}

var manual = Mutation{Operator: "alice", Source: audit.SourceAPI, Operation: audit.OpManual, Reason: "tune"}

func auditCount(t *testing.T, log *audit.Log) int64 {
	t.Helper()
	page, err := log.Query(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return page.Total
}

func TestNew_ValidatesKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []KeyRecord
		wantErr error
	}{
		{"valid", keys(key("a", 1), key("b", 0)), nil},
		{"empty pool", nil, nil},
		{"empty id", keys(key("", 1)), ErrInvalidKey},
		{"duplicate id", keys(key("a", 1), key("a", 2)), ErrInvalidKey},
		{"negative weight", keys(key("a", -1)), ErrInvalidWeight},
		{"zero rpm", keys(KeyRecord{ID: "a", Weight: 1}), ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.keys, nil)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyMutation_SingleKey(t *testing.T) {
	p, log := newTestPool(t, key("a", 100), key("b", 100))
	before := p.CurrentView()

	records, err := p.ApplyMutation(context.Background(), []Change{SetWeight("a", 250)}, manual)
	if err != nil {
		t.Fatalf("ApplyMutation() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.TargetKeyID != "a" || r.OldWeight != 100 || r.NewWeight != 250 || r.OperationType != audit.OpManual {
		t.Errorf("record = %+v", r)
	}
	if r.ID == 0 {
		t.Error("record id not assigned")
	}

	after := p.CurrentView()
	if after.Version != before.Version+1 {
		t.Errorf("Version = %d, want %d", after.Version, before.Version+1)
	}
	if got, _ := after.Get("a"); got.Weight != 250 {
		t.Errorf("a.Weight = %d, want 250", got.Weight)
	}
	// The previous view is untouched.
	if got, _ := before.Get("a"); got.Weight != 100 {
		t.Errorf("old view mutated: a.Weight = %d", got.Weight)
	}
	if auditCount(t, log) != 1 {
		t.Errorf("audit has %d records, want 1", auditCount(t, log))
	}
}

func TestApplyMutation_AllOrNothing(t *testing.T) {
	tests := []struct {
		name    string
		changes []Change
		wantErr error
	}{
		{"unknown key", []Change{SetWeight("a", 200), SetWeight("zzz", 10)}, ErrKeyNotFound},
		{"negative weight", []Change{SetWeight("a", 200), SetWeight("b", -5)}, ErrInvalidWeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, log := newTestPool(t, key("a", 100), key("b", 100))
			before := p.CurrentView()

			records, err := p.ApplyMutation(context.Background(), tt.changes, manual)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ApplyMutation() error = %v, want %v", err, tt.wantErr)
			}
			if records != nil {
				t.Errorf("records = %v, want nil", records)
			}
			if p.CurrentView() != before {
				t.Error("view replaced after failed mutation")
			}
			if auditCount(t, log) != 0 {
				t.Error("audit record written for failed mutation")
			}
		})
	}
}

func TestApplyMutation_TypedErrors(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100))

	_, err := p.ApplyMutation(context.Background(), []Change{SetWeight("nope", 1)}, manual)
	var nf *KeyNotFoundError
	if !errors.As(err, &nf) || nf.KeyID != "nope" {
		t.Errorf("error = %v, want KeyNotFoundError{nope}", err)
	}

	_, err = p.ApplyMutation(context.Background(), []Change{SetWeight("a", -3)}, manual)
	var iw *InvalidWeightError
	if !errors.As(err, &iw) || iw.Weight != -3 {
		t.Errorf("error = %v, want InvalidWeightError{-3}", err)
	}
}

func TestApplyMutation_UnchangedIsNoop(t *testing.T) {
	p, log := newTestPool(t, key("a", 100), key("b", 50))
	before := p.CurrentView()

	records, err := p.ApplyMutation(context.Background(), []Change{SetWeight("a", 100), SetEnabled("b", true)}, manual)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
	if p.CurrentView() != before {
		t.Error("view replaced for a no-op change-set")
	}
	if auditCount(t, log) != 0 {
		t.Error("no-op wrote audit records")
	}
}

func TestApplyMutation_Enable(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100))

	records, err := p.ApplyMutation(context.Background(), []Change{SetEnabled("a", false)}, manual)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Metadata[MetaEnabled] != "false" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].OldWeight != 100 || records[0].NewWeight != 100 {
		t.Errorf("disable should keep weight: %+v", records[0])
	}

	v := p.CurrentView()
	if len(v.Eligible()) != 0 || v.EnabledCount() != 0 {
		t.Error("disabled key still eligible")
	}
}

func TestApplyMutation_BatchSharesAttribution(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100), key("b", 100), key("c", 100))

	m := Mutation{
		Operator:  "bob",
		Source:    audit.SourceWebUI,
		Operation: audit.OpBatch,
		Reason:    "burst test",
		Metadata:  map[string]string{"operation": "multiply"},
	}
	records, err := p.ApplyMutation(context.Background(), []Change{SetWeight("a", 200), SetWeight("c", 10)}, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, r := range records {
		if r.Operator != "bob" || r.Source != audit.SourceWebUI || r.Reason != "burst test" || r.Metadata["operation"] != "multiply" {
			t.Errorf("attribution lost: %+v", r)
		}
	}
	if records[0].ID >= records[1].ID {
		t.Error("record ids not ascending in pool order")
	}

	// Each record owns its metadata map.
	records[0].Metadata["x"] = "y"
	if _, ok := records[1].Metadata["x"]; ok {
		t.Error("records share a metadata map")
	}
	if _, ok := m.Metadata["x"]; ok {
		t.Error("caller metadata mutated")
	}
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, []*audit.Record) error {
	return errors.New("disk full")
}

func TestApplyMutation_AuditFailureLeavesPoolUnchanged(t *testing.T) {
	p, err := New(keys(key("a", 100)), failingAppender{})
	if err != nil {
		t.Fatal(err)
	}
	before := p.CurrentView()

	if _, err := p.ApplyMutation(context.Background(), []Change{SetWeight("a", 1)}, manual); err == nil {
		t.Fatal("expected error")
	}
	if p.CurrentView() != before {
		t.Error("view swapped although audit write failed")
	}
}

// slowAppender delays every write, as a durable store would.
type slowAppender struct {
	next  Appender
	delay time.Duration
}

func (a slowAppender) Append(ctx context.Context, records []*audit.Record) error {
	time.Sleep(a.delay)
	return a.next.Append(ctx, records)
}

func increase(id string, by int) Plan {
	return func(v *View) ([]Change, error) {
		k, ok := v.Get(id)
		if !ok {
			return nil, &KeyNotFoundError{KeyID: id}
		}
		return []Change{SetWeight(id, k.Weight+by)}, nil
	}
}

func TestMutate_ConcurrentRelativeEdits(t *testing.T) {
	log := audit.NewLog(storage.NewMemoryStorage(), audit.LogOptions{})
	p, err := New(keys(key("a", 100)), slowAppender{next: log, delay: 2 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := p.Mutate(context.Background(), increase("a", 1), manual, nil)
			if err != nil || len(records) != 1 {
				t.Errorf("Mutate() = %d records, %v", len(records), err)
			}
		}()
	}
	wg.Wait()

	if a, _ := p.CurrentView().Get("a"); a.Weight != 100+writers {
		t.Errorf("weight = %d, want %d", a.Weight, 100+writers)
	}
	if got := auditCount(t, log); got != writers {
		t.Errorf("audit has %d records, want %d", got, writers)
	}
}

func TestMutate_Prepare(t *testing.T) {
	ctx := context.Background()

	t.Run("sees the committed view and adds metadata", func(t *testing.T) {
		p, log := newTestPool(t, key("a", 100), key("b", 50))
		var seen uint64
		records, err := p.Mutate(ctx, increase("a", 10), manual, func(_ context.Context, v *View, changes []Change) (map[string]string, error) {
			seen = v.Version
			if len(changes) != 1 || *changes[0].Weight != 110 {
				t.Errorf("changes = %+v", changes)
			}
			return map[string]string{"snapshot": "s1"}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if seen != 1 || p.CurrentView().Version != 2 {
			t.Errorf("prepare saw version %d, pool at %d", seen, p.CurrentView().Version)
		}
		if len(records) != 1 || records[0].Metadata["snapshot"] != "s1" {
			t.Errorf("records = %+v", records)
		}
		if auditCount(t, log) != 1 {
			t.Error("expected one audit record")
		}
	})

	tests := []struct {
		name string
		plan Plan
	}{
		{"unknown key", func(*View) ([]Change, error) { return []Change{SetWeight("a", 5), SetWeight("ghost", 5)}, nil }},
		{"negative weight", func(*View) ([]Change, error) { return []Change{SetWeight("a", -1)}, nil }},
		{"plan error", func(*View) ([]Change, error) { return nil, errors.New("no targets") }},
		{"no effective change", func(*View) ([]Change, error) { return []Change{SetWeight("a", 100)}, nil }},
	}
	for _, tt := range tests {
		t.Run("skipped on "+tt.name, func(t *testing.T) {
			p, log := newTestPool(t, key("a", 100))
			called := false
			p.Mutate(ctx, tt.plan, manual, func(context.Context, *View, []Change) (map[string]string, error) {
				called = true
				return nil, nil
			})
			if called {
				t.Error("prepare ran for a mutation that writes nothing")
			}
			if auditCount(t, log) != 0 || p.CurrentView().Version != 1 {
				t.Error("pool changed")
			}
		})
	}

	t.Run("error aborts", func(t *testing.T) {
		p, log := newTestPool(t, key("a", 100))
		fail := errors.New("snapshot store down")
		_, err := p.Mutate(ctx, increase("a", 1), manual, func(context.Context, *View, []Change) (map[string]string, error) {
			return nil, fail
		})
		if !errors.Is(err, fail) {
			t.Errorf("error = %v, want %v", err, fail)
		}
		if auditCount(t, log) != 0 || p.CurrentView().Version != 1 {
			t.Error("pool changed after prepare failed")
		}
	})
}

func TestApplyMutation_CancelledContext(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.ApplyMutation(ctx, []Change{SetWeight("a", 1)}, manual); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestReplace(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100), key("b", 100), key("c", 30))

	updated := key("a", 150)
	updated.MaxRequestsPerMinute = 120
	m := Mutation{Operator: "config", Source: audit.SourceConfigFile, Operation: audit.OpManual, Reason: "config reload"}

	records, err := p.Replace(context.Background(), keys(updated, key("b", 100), key("d", 40)), m)
	if err != nil {
		t.Fatal(err)
	}

	byKey := map[string]*audit.Record{}
	for _, r := range records {
		byKey[r.TargetKeyID] = r
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (a changed, c removed, d added): %+v", len(records), records)
	}
	if r := byKey["a"]; r == nil || r.OldWeight != 100 || r.NewWeight != 150 {
		t.Errorf("a record = %+v", r)
	}
	if r := byKey["d"]; r == nil || r.OldWeight != 0 || r.NewWeight != 40 || r.Metadata[MetaAdded] != "true" {
		t.Errorf("d record = %+v", r)
	}
	if r := byKey["c"]; r == nil || r.Metadata[MetaRemovedFromConfig] != "true" || r.NewWeight != 30 {
		t.Errorf("c record = %+v", r)
	}
	if r := byKey["a"]; r != nil && r.Source != audit.SourceConfigFile {
		t.Errorf("source = %s, want ConfigFile", r.Source)
	}

	v := p.CurrentView()
	c, ok := v.Get("c")
	if !ok || c.Enabled || c.Weight != 30 {
		t.Errorf("removed key should be kept disabled with its weight: %+v, %v", c, ok)
	}
	a, _ := v.Get("a")
	if a.MaxRequestsPerMinute != 120 {
		t.Errorf("a.MaxRequestsPerMinute = %d, want 120", a.MaxRequestsPerMinute)
	}
	if v.Len() != 4 {
		t.Errorf("Len() = %d, want 4", v.Len())
	}
}

func TestReplace_Identical(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100))
	before := p.CurrentView()

	records, err := p.Replace(context.Background(), keys(key("a", 100)), manual)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 || p.CurrentView() != before {
		t.Error("identical key list should not replace the view")
	}
}

func TestReplace_LimitOnlyChangeSwapsWithoutRecords(t *testing.T) {
	p, log := newTestPool(t, key("a", 100))
	before := p.CurrentView()

	k := key("a", 100)
	k.MaxRequestsPerMinute = 10
	records, err := p.Replace(context.Background(), keys(k), manual)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 || auditCount(t, log) != 0 {
		t.Error("limit change should not be audited")
	}
	if p.CurrentView() == before {
		t.Error("limit change should publish a new view")
	}
}

func TestSubscribe(t *testing.T) {
	p, _ := newTestPool(t, key("a", 100))

	var got []uint64
	unsubscribe := p.Subscribe(func(v *View) { got = append(got, v.Version) })

	p.ApplyMutation(context.Background(), []Change{SetWeight("a", 1)}, manual)
	p.ApplyMutation(context.Background(), []Change{SetWeight("a", 2)}, manual)
	unsubscribe()
	p.ApplyMutation(context.Background(), []Change{SetWeight("a", 3)}, manual)

	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("notified versions = %v, want [2 3]", got)
	}
}

func TestPool_ConcurrentReadersAndWriters(t *testing.T) {
	p, log := newTestPool(t, key("a", 100), key("b", 100))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p.ApplyMutation(ctx, []Change{SetWeight("a", 200+i), SetWeight("b", 300+i)}, manual)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := p.CurrentView()
				a, _ := v.Get("a")
				b, _ := v.Get("b")
				// Both keys of a batch are always published together.
				if a.Weight != 100 && b.Weight-a.Weight != 100 {
					t.Errorf("torn view: a=%d b=%d", a.Weight, b.Weight)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := auditCount(t, log); got != 20 {
		t.Errorf("audit has %d records, want 20", got)
	}
	if p.CurrentView().Version != 11 {
		t.Errorf("Version = %d, want 11", p.CurrentView().Version)
	}
}
