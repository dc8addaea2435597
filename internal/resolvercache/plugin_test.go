package resolvercache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/FormidableLabs/trygql/internal/coalesce"
	"github.com/FormidableLabs/trygql/internal/schema"
)

// memStore is an instrumented in-memory cache.Store.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	gets   int
	sets   int
	getErr error
	setErr error
}

func newMemStore() *memStore {
	return &memStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *memStore) Purge(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) counts() (gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.sets
}

func (s *memStore) entry(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// countingRecorder counts recorder events by "coordinate/result".
type countingRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *countingRecorder) RecordResolverCacheLookup(coordinate, result string) {
	r.add(coordinate + "/" + result)
}

func (r *countingRecorder) RecordResolverCacheError(coordinate, op string) {
	r.add(coordinate + "/error:" + op)
}

func (r *countingRecorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[event]++
}

func (r *countingRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

type monster struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var monsterNames = map[string]string{"1": "Bulbasaur", "2": "Ivysaur"}

// fixture is a small schema whose Query.monster field is cached and whose
// Query.plain field is not.
type fixture struct {
	store    *memStore
	recorder *countingRecorder
	plugin   *Plugin
	schema   graphql.Schema
	logs     *bytes.Buffer

	calls     atomic.Int32
	failNext  atomic.Bool
	returnNil atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		recorder: &countingRecorder{},
		logs:     &bytes.Buffer{},
	}

	plugin, err := New(Config{
		Store:    f.store,
		Logger:   slog.New(slog.NewTextHandler(f.logs, nil)),
		Recorder: f.recorder,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.plugin = plugin

	b := schema.NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil)), plugin)

	monsterType := b.Object(schema.ObjectDef{
		Name: "Monster",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "id", Type: graphql.NewNonNull(graphql.ID)},
				{Name: "name", Type: graphql.String},
				{
					Name: "label",
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						m, ok := p.Source.(*monster)
						if !ok {
							return nil, fmt.Errorf("unexpected parent %T", p.Source)
						}
						return "#" + m.ID + " " + m.Name, nil
					},
				},
			}
		},
	})

	queryType := b.Object(schema.ObjectDef{
		Name: "Query",
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name:   "monster",
					Type:   monsterType,
					Args:   graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)}},
					TTL:    60 * time.Second,
					Decode: DecodeAs[*monster](),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						f.calls.Add(1)
						if f.failNext.Swap(false) {
							return nil, errors.New("upstream unavailable")
						}
						if f.returnNil.Load() {
							return nil, nil
						}
						id := p.Args["id"].(string)
						return &monster{ID: id, Name: monsterNames[id]}, nil
					},
				},
				{
					Name: "plain",
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: graphql.ID}},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						f.calls.Add(1)
						return "plain", nil
					},
				},
			}
		},
	})

	s, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	f.schema = s
	return f
}

func (f *fixture) do(t *testing.T, query string) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:        f.schema,
		RequestString: query,
		Context:       context.Background(),
	})
}

func (f *fixture) key(id string) string {
	return f.plugin.Key(Coordinate{TypeName: "Query", FieldName: "monster"}, nil, map[string]any{"id": id})
}

func monsterName(t *testing.T, res *graphql.Result) string {
	t.Helper()
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	data := res.Data.(map[string]interface{})
	m, ok := data["monster"].(map[string]interface{})
	if !ok {
		t.Fatalf("monster = %v", data["monster"])
	}
	name, _ := m["name"].(string)
	return name
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoStore) {
		t.Errorf("New() error = %v, want ErrNoStore", err)
	}
}

func TestOnCreateFieldResolverSkipsFieldsWithoutTTL(t *testing.T) {
	p, _ := New(Config{Store: newMemStore()})

	for _, ttl := range []time.Duration{0, -time.Second} {
		mw := p.OnCreateFieldResolver(schema.FieldConfig{
			ParentTypeName: "Query",
			Field:          schema.FieldDef{Name: "plain", TTL: ttl},
		})
		if mw != nil {
			t.Errorf("TTL %v: expected no middleware", ttl)
		}
	}
}

func TestCacheAsideRoundTrip(t *testing.T) {
	f := newFixture(t)
	query := `{ monster(id: "1") { id name label } }`

	first := f.do(t, query)
	second := f.do(t, query)

	if got := f.calls.Load(); got != 1 {
		t.Errorf("resolver calls = %d, want 1", got)
	}
	if monsterName(t, first) != "Bulbasaur" || monsterName(t, second) != "Bulbasaur" {
		t.Errorf("names = %q, %q", monsterName(t, first), monsterName(t, second))
	}

	label := second.Data.(map[string]interface{})["monster"].(map[string]interface{})["label"]
	if label != "#1 Bulbasaur" {
		t.Errorf("label on cache hit = %v, want typed parent", label)
	}

	if f.recorder.count("Query.monster/miss") != 1 || f.recorder.count("Query.monster/hit") != 1 {
		t.Errorf("recorder events = %v", f.recorder.events)
	}
}

func TestMissThenPopulate(t *testing.T) {
	f := newFixture(t)

	monsterName(t, f.do(t, `{ monster(id: "1") { name } }`))

	key1 := f.key("1")
	if !strings.HasPrefix(key1, "Query.monster.") {
		t.Errorf("key = %q, want coordinate prefix", key1)
	}
	if !strings.HasSuffix(key1, fmt.Sprintf(".%d", f.plugin.hasher.Hash(map[string]any{"id": "1"}))) {
		t.Errorf("key %q does not end with the argument hash", key1)
	}

	data, ok := f.store.entry(DefaultNamespace + ":" + key1)
	if !ok {
		t.Fatalf("expected entry under %s:%s", DefaultNamespace, key1)
	}
	if string(data) != `{"id":"1","name":"Bulbasaur"}` {
		t.Errorf("entry = %s", data)
	}
	if ttl := f.store.ttls[DefaultNamespace+":"+key1]; ttl != 60*time.Second {
		t.Errorf("ttl = %v, want 60s", ttl)
	}

	if got := monsterName(t, f.do(t, `{ monster(id: "2") { name } }`)); got != "Ivysaur" {
		t.Errorf("name = %q, want Ivysaur", got)
	}

	key2 := f.key("2")
	if key1 == key2 {
		t.Error("expected different arguments to produce different keys")
	}
	if _, ok := f.store.entry(DefaultNamespace + ":" + key2); !ok {
		t.Error("expected a second entry for id 2")
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
}

func TestNoNegativeCaching(t *testing.T) {
	f := newFixture(t)
	query := `{ monster(id: "1") { name } }`

	f.failNext.Store(true)
	res := f.do(t, query)
	if !res.HasErrors() {
		t.Fatal("expected resolver error")
	}
	if msg := res.Errors[0].Message; msg != "upstream unavailable" {
		t.Errorf("error = %q, want resolver error unchanged", msg)
	}
	if _, sets := f.store.counts(); sets != 0 {
		t.Errorf("store sets after error = %d, want 0", sets)
	}

	if got := monsterName(t, f.do(t, query)); got != "Bulbasaur" {
		t.Errorf("name = %q", got)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
}

func TestUncachedFieldsNeverTouchStore(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		res := f.do(t, `{ plain(id: "1") }`)
		if res.HasErrors() {
			t.Fatalf("unexpected errors: %v", res.Errors)
		}
	}

	if gets, sets := f.store.counts(); gets != 0 || sets != 0 {
		t.Errorf("store interactions = %d gets, %d sets, want none", gets, sets)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("resolver calls = %d, want 3", got)
	}
}

func TestStoreReadFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.store.getErr = errors.New("connection refused")

	for i := 0; i < 2; i++ {
		if got := monsterName(t, f.do(t, `{ monster(id: "1") { name } }`)); got != "Bulbasaur" {
			t.Errorf("name = %q", got)
		}
	}

	if got := f.calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
	if got := f.recorder.count("Query.monster/error:get"); got != 2 {
		t.Errorf("read errors recorded = %d, want 2", got)
	}
	if !strings.Contains(f.logs.String(), "resolver cache read failed") {
		t.Errorf("expected warning in logs, got %s", f.logs.String())
	}
}

func TestStoreWriteFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.store.setErr = errors.New("read-only replica")

	if got := monsterName(t, f.do(t, `{ monster(id: "1") { name } }`)); got != "Bulbasaur" {
		t.Errorf("name = %q", got)
	}

	logs := f.logs.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "resolver cache write failed") {
		t.Errorf("expected write warning, got %s", logs)
	}
	if got := f.recorder.count("Query.monster/error:set"); got != 1 {
		t.Errorf("write errors recorded = %d, want 1", got)
	}
}

func TestUndecodableEntryIsMiss(t *testing.T) {
	f := newFixture(t)
	f.store.data[DefaultNamespace+":"+f.key("1")] = []byte("{not json")

	if got := monsterName(t, f.do(t, `{ monster(id: "1") { name } }`)); got != "Bulbasaur" {
		t.Errorf("name = %q", got)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("resolver calls = %d, want 1", got)
	}
	if got := f.recorder.count("Query.monster/error:decode"); got != 1 {
		t.Errorf("decode errors recorded = %d, want 1", got)
	}
}

func TestNullResultsAreNotStored(t *testing.T) {
	f := newFixture(t)
	f.returnNil.Store(true)

	for i := 0; i < 2; i++ {
		res := f.do(t, `{ monster(id: "1") { name } }`)
		if res.HasErrors() {
			t.Fatalf("unexpected errors: %v", res.Errors)
		}
	}

	if _, sets := f.store.counts(); sets != 0 {
		t.Errorf("store sets = %d, want 0", sets)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
}

func TestOpaqueParentsGetDistinctEntries(t *testing.T) {
	p, _ := New(Config{Store: newMemStore()})

	var calls int
	resolve := p.OnCreateFieldResolver(schema.FieldConfig{
		ParentTypeName: "Session",
		Field:          schema.FieldDef{Name: "user", TTL: time.Minute},
	})(func(graphql.ResolveParams) (interface{}, error) {
		calls++
		return "user", nil
	})

	a := &conn{fd: 1}
	b := &conn{fd: 1}
	for _, parent := range []*conn{a, a, b} {
		if _, err := resolve(graphql.ResolveParams{Source: parent, Context: context.Background()}); err != nil {
			t.Fatal(err)
		}
	}

	if calls != 2 {
		t.Errorf("resolver calls = %d, want 2 (one per instance)", calls)
	}
}

func TestThunksAreSettledBeforeCaching(t *testing.T) {
	store := newMemStore()
	p, _ := New(Config{Store: store})

	resolve := p.OnCreateFieldResolver(schema.FieldConfig{
		ParentTypeName: "Query",
		Field:          schema.FieldDef{Name: "slow", TTL: time.Minute},
	})(func(graphql.ResolveParams) (interface{}, error) {
		return func() (interface{}, error) { return "settled", nil }, nil
	})

	value, err := resolve(graphql.ResolveParams{Context: context.Background()})
	if err != nil {
		t.Fatal(err)
	}
	if value != "settled" {
		t.Errorf("value = %v, want settled", value)
	}

	data, ok := store.entry(DefaultNamespace + ":" + p.Key(Coordinate{TypeName: "Query", FieldName: "slow"}, nil, nil))
	if !ok || string(data) != `"settled"` {
		t.Errorf("entry = %s, %v", data, ok)
	}
}

func TestPurgeByCoordinate(t *testing.T) {
	f := newFixture(t)
	f.do(t, `{ monster(id: "1") { name } }`)
	f.do(t, `{ monster(id: "2") { name } }`)
	f.store.data["other:Query.monster.1.1"] = []byte("1")

	n, err := f.plugin.Purge(context.Background(), Coordinate{TypeName: "Query", FieldName: "monster"})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
	if _, ok := f.store.entry("other:Query.monster.1.1"); !ok {
		t.Error("expected entries outside the namespace to survive")
	}
}

// blockingField returns a cached resolver whose calls block until release is
// closed.
func blockingField(t *testing.T, p *Plugin, calls *atomic.Int32, entered chan<- struct{}, release <-chan struct{}) graphql.FieldResolveFn {
	t.Helper()
	return p.OnCreateFieldResolver(schema.FieldConfig{
		ParentTypeName: "Query",
		Field:          schema.FieldDef{Name: "slow", TTL: time.Minute},
	})(func(graphql.ResolveParams) (interface{}, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return "value", nil
	})
}

func TestConcurrentMissesResolveIndependently(t *testing.T) {
	store := newMemStore()
	p, _ := New(Config{Store: store})

	var calls atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	resolve := blockingField(t, p, &calls, entered, release)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolve(graphql.ResolveParams{Args: map[string]interface{}{"id": "1"}, Context: context.Background()})
		}()
	}

	// Both callers reach the real resolver before either finishes.
	<-entered
	<-entered
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
	if _, sets := store.counts(); sets != 2 {
		t.Errorf("store sets = %d, want 2", sets)
	}
}

func TestCoalescedMissesResolveOnce(t *testing.T) {
	store := newMemStore()
	recorder := &countingRecorder{}
	c := coalesce.New(coalesce.Config{})
	p, _ := New(Config{Store: store, Recorder: recorder, Coalesce: c})

	var calls atomic.Int32
	entered := make(chan struct{}, 5)
	release := make(chan struct{})
	resolve := blockingField(t, p, &calls, entered, release)

	values := make([]interface{}, 5)
	var wg sync.WaitGroup
	for i := range values {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], _ = resolve(graphql.ResolveParams{Args: map[string]interface{}{"id": "1"}, Context: context.Background()})
		}(i)
	}

	<-entered
	deadline := time.Now().Add(2 * time.Second)
	for c.GetMetrics().CoalescedRequests < 4 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for callers to join the flight")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("resolver calls = %d, want 1", got)
	}
	if _, sets := store.counts(); sets != 1 {
		t.Errorf("store sets = %d, want 1", sets)
	}
	for i, v := range values {
		if v != "value" {
			t.Errorf("value[%d] = %v, want value", i, v)
		}
	}
	if got := recorder.count("Query.slow/coalesced"); got != 4 {
		t.Errorf("coalesced events = %d, want 4", got)
	}
}

func TestCoalescedWaiterSurvivesLeaderCancellation(t *testing.T) {
	store := newMemStore()
	c := coalesce.New(coalesce.Config{})
	p, _ := New(Config{Store: store, Coalesce: c})

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	resolve := p.OnCreateFieldResolver(schema.FieldConfig{
		ParentTypeName: "Query",
		Field:          schema.FieldDef{Name: "slow", TTL: time.Minute},
	})(func(params graphql.ResolveParams) (interface{}, error) {
		entered <- struct{}{}
		<-release
		if err := params.Context.Err(); err != nil {
			return nil, err
		}
		return "value", nil
	})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	var leaderErr error
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, leaderErr = resolve(graphql.ResolveParams{Context: leaderCtx})
	}()
	<-entered

	var waiterValue interface{}
	var waiterErr error
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		waiterValue, waiterErr = resolve(graphql.ResolveParams{Context: context.Background()})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.GetMetrics().CoalescedRequests < 1 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the second caller to join the flight")
		}
		time.Sleep(time.Millisecond)
	}

	cancelLeader()
	close(release)
	<-leaderDone
	<-waiterDone

	if waiterErr != nil {
		t.Fatalf("waiter error = %v, want the shared value", waiterErr)
	}
	if waiterValue != "value" {
		t.Errorf("waiter value = %v, want value", waiterValue)
	}
	if leaderErr != nil {
		t.Errorf("leader error = %v", leaderErr)
	}
	if _, sets := store.counts(); sets != 1 {
		t.Errorf("store sets = %d, want 1", sets)
	}
}

func TestPurgeAll(t *testing.T) {
	f := newFixture(t)
	f.do(t, `{ monster(id: "1") { name } }`)
	f.store.data["other:Query.monster.1.1"] = []byte("1")

	n, err := f.plugin.Purge(context.Background(), Coordinate{})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n == 0 {
		t.Error("expected entries to be purged")
	}
	for key := range f.store.data {
		if strings.HasPrefix(key, DefaultNamespace+":") {
			t.Errorf("entry %s survived Purge", key)
		}
	}
	if _, ok := f.store.entry("other:Query.monster.1.1"); !ok {
		t.Error("expected entries outside the namespace to survive")
	}
}

func TestDecodeAs(t *testing.T) {
	decode := DecodeAs[*monster]()

	v, err := decode([]byte(`{"id":"1","name":"Bulbasaur"}`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(*monster)
	if !ok || m.Name != "Bulbasaur" {
		t.Errorf("decoded = %#v", v)
	}

	if v, err := decode([]byte("null")); err != nil || v != nil {
		t.Errorf("decode(null) = %v, %v, want nil", v, err)
	}
	if _, err := decode([]byte("[")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
