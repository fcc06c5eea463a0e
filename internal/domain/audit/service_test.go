package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type mockRepo struct {
	mu      sync.Mutex
	max     uint64
	entries []Entry
	failing bool
}

func (r *mockRepo) Append(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("storage down")
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *mockRepo) MaxOrdinal(context.Context) (uint64, error) {
	return r.max, nil
}

func (r *mockRepo) List(_ context.Context, f Filter) ([]Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		out = append(out, e)
	}
	if !f.SortAsc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, len(out), nil
}

func newService(t *testing.T, repo *mockRepo, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), repo, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestOrdinalsPrimeFromStorage(t *testing.T) {
	repo := &mockRepo{max: 41}
	svc := newService(t, repo)
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
	if got := repo.entries[0].Ordinal; got != 42 {
		t.Fatalf("ordinal = %d, want 42", got)
	}
}

func TestOrdinalsAreGapFreeUnderConcurrency(t *testing.T) {
	repo := &mockRepo{}
	svc := newService(t, repo)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
			}
		}()
	}
	wg.Wait()

	ordinals := make([]int, 0, writers*perWriter)
	for _, e := range repo.entries {
		ordinals = append(ordinals, int(e.Ordinal))
	}
	sort.Ints(ordinals)
	if len(ordinals) != writers*perWriter {
		t.Fatalf("entries = %d", len(ordinals))
	}
	for i, o := range ordinals {
		if o != i+1 {
			t.Fatalf("gap at position %d: ordinal %d", i, o)
		}
	}
}

func TestRecordNeverFails(t *testing.T) {
	repo := &mockRepo{failing: true}
	svc := newService(t, repo)
	// Must not panic or surface anything.
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
}

func TestRecordSurvivesCancelledRequestContext(t *testing.T) {
	repo := &mockRepo{}
	svc := newService(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, ActionLogout, "u-1", "", nil)
	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d", len(repo.entries))
	}
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	repo := &mockRepo{}
	svc := newService(t, repo)
	svc.Record(context.Background(), ActionUserCreate, "", "u-9", nil)
	if repo.entries[0].ActorID != SystemActor {
		t.Fatalf("actor = %q", repo.entries[0].ActorID)
	}
}

func TestRecordCapturesSource(t *testing.T) {
	repo := &mockRepo{}
	svc := newService(t, repo)
	ctx := WithSource(context.Background(), "10.1.2.3", "curl/8")
	svc.Record(ctx, ActionLogin, "u-1", "", nil)
	e := repo.entries[0]
	if e.SourceIP != "10.1.2.3" || e.UserAgent != "curl/8" {
		t.Fatalf("source = %q / %q", e.SourceIP, e.UserAgent)
	}
}

func TestWriteHookFiresOnSuccessOnly(t *testing.T) {
	calls := 0
	repo := &mockRepo{}
	svc := newService(t, repo, WithWriteHook(func() { calls++ }))
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)

	repo.failing = true
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
	if calls != 1 {
		t.Fatalf("hook calls = %d", calls)
	}
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := OpenFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	repo := &mockRepo{}
	svc := newService(t, repo, WithSink(sink))
	svc.Record(context.Background(), ActionUserCreate, "adm-1", "u-9", map[string]any{"role": "patient"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var line Entry
	if err := json.Unmarshal(data[:len(data)-1], &line); err != nil {
		t.Fatalf("sink line is not JSON: %v", err)
	}
	if line.Action != ActionUserCreate || line.SubjectID != "u-9" {
		t.Fatalf("sink entry = %+v", line)
	}
}

func TestEntryIDsAreULIDs(t *testing.T) {
	repo := &mockRepo{}
	svc := newService(t, repo)
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
	svc.Record(context.Background(), ActionLogin, "u-1", "", nil)
	a, b := repo.entries[0].ID, repo.entries[1].ID
	if len(a) != 26 || len(b) != 26 || a == b {
		t.Fatalf("ids = %q, %q", a, b)
	}
}
