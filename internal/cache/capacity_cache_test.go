package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
)

type countingSource struct {
	calls     int
	overrides map[time.Time]float64
	written   []float64
}

func (s *countingSource) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	v, ok := s.overrides[interval.Day(day)]
	return v, ok, nil
}

func (s *countingSource) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	s.calls++
	out := make(map[time.Time]float64)
	for d, v := range s.overrides {
		if interval.Contains(start, end, d) {
			out[d] = v
		}
	}
	return out, nil
}

func (s *countingSource) SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error {
	s.written = append(s.written, hours)
	s.overrides[interval.Day(day)] = hours
	return nil
}

// unreachable points at a closed port so every command fails fast.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func mustDay(s string) time.Time {
	d, err := interval.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCapacityCache_FallsBackWhenRedisIsDown(t *testing.T) {
	src := &countingSource{overrides: map[time.Time]float64{
		mustDay("2024-01-10"): 0,
		mustDay("2024-03-01"): 4,
	}}
	rdb := unreachable()
	defer rdb.Close()
	c := NewCapacityCache(src, rdb, time.Minute, zap.NewNop())

	got, err := c.FindDailyCapacityOverrides(context.Background(), "emp-1", mustDay("2024-01-01"), mustDay("2024-01-31"))
	if err != nil {
		t.Fatalf("FindDailyCapacityOverrides() error = %v", err)
	}
	if len(got) != 1 || got[mustDay("2024-01-10")] != 0 {
		t.Errorf("got %v, want the single January override", got)
	}

	v, ok, err := c.FindDailyCapacityOverride(context.Background(), "emp-1", mustDay("2024-03-01"))
	if err != nil || !ok || v != 4 {
		t.Errorf("FindDailyCapacityOverride() = %v, %v, %v; want 4, true, nil", v, ok, err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestCapacityCache_SetWritesThrough(t *testing.T) {
	src := &countingSource{overrides: map[time.Time]float64{}}
	rdb := unreachable()
	defer rdb.Close()
	c := NewCapacityCache(src, rdb, 0, zap.NewNop())

	if err := c.SetDailyCapacity(context.Background(), "emp-1", mustDay("2024-01-10"), 2); err != nil {
		t.Fatalf("SetDailyCapacity() error = %v", err)
	}
	if len(src.written) != 1 || src.written[0] != 2 {
		t.Errorf("source writes = %v", src.written)
	}
	if c.ttl != 10*time.Minute {
		t.Errorf("default ttl = %v", c.ttl)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := map[time.Time]float64{mustDay("2024-02-29"): 3.5}
	raw, err := encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"2024-02-29":3.5}` {
		t.Errorf("encode() = %s", raw)
	}
	out, err := decode(raw)
	if err != nil || out[mustDay("2024-02-29")] != 3.5 {
		t.Errorf("decode() = %v, %v", out, err)
	}
	if _, err := decode([]byte(`{"not-a-date":1}`)); err == nil {
		t.Error("expected error for a bad date key")
	}
}

func TestKeys(t *testing.T) {
	if k := rangeKey("emp-1", mustDay("2024-01-01"), mustDay("2024-01-31")); k != "capacity:emp-1:2024-01-01:2024-01-31" {
		t.Errorf("rangeKey() = %q", k)
	}
	if k := indexKey("emp-1"); k != "capacity:idx:emp-1" {
		t.Errorf("indexKey() = %q", k)
	}
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCapacityCache_ServesRepeatReadsFromRedis(t *testing.T) {
	mr, rdb := newMiniredis(t)
	src := &countingSource{overrides: map[time.Time]float64{mustDay("2024-01-10"): 2}}
	c := NewCapacityCache(src, rdb, time.Minute, zap.NewNop())
	ctx := context.Background()
	start, end := mustDay("2024-01-01"), mustDay("2024-01-31")

	for i := 0; i < 3; i++ {
		got, err := c.FindDailyCapacityOverrides(ctx, "emp-1", start, end)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(got) != 1 || got[mustDay("2024-01-10")] != 2 {
			t.Errorf("read %d = %v", i, got)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}

	key := rangeKey("emp-1", start, end)
	if !mr.Exists(key) {
		t.Fatalf("%s not cached", key)
	}
	if ok, _ := mr.SIsMember(indexKey("emp-1"), key); !ok {
		t.Errorf("%s missing from the employee index", key)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.FindDailyCapacityOverrides(ctx, "emp-1", start, end); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("source calls after expiry = %d, want 2", src.calls)
	}
}

func TestCapacityCache_SetInvalidatesEmployee(t *testing.T) {
	mr, rdb := newMiniredis(t)
	src := &countingSource{overrides: map[time.Time]float64{}}
	c := NewCapacityCache(src, rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	jan := func() map[time.Time]float64 {
		got, err := c.FindDailyCapacityOverrides(ctx, "emp-1", mustDay("2024-01-01"), mustDay("2024-01-31"))
		if err != nil {
			t.Fatal(err)
		}
		return got
	}
	if got := jan(); len(got) != 0 {
		t.Fatalf("initial = %v", got)
	}
	if _, err := c.FindDailyCapacityOverrides(ctx, "emp-2", mustDay("2024-01-01"), mustDay("2024-01-31")); err != nil {
		t.Fatal(err)
	}

	if err := c.SetDailyCapacity(ctx, "emp-1", mustDay("2024-01-10"), 0); err != nil {
		t.Fatalf("SetDailyCapacity() error = %v", err)
	}
	if mr.Exists(indexKey("emp-1")) || mr.Exists(rangeKey("emp-1", mustDay("2024-01-01"), mustDay("2024-01-31"))) {
		t.Error("emp-1 entries should be dropped")
	}
	if !mr.Exists(rangeKey("emp-2", mustDay("2024-01-01"), mustDay("2024-01-31"))) {
		t.Error("emp-2 entries should survive")
	}

	got := jan()
	if v, ok := got[mustDay("2024-01-10")]; !ok || v != 0 {
		t.Errorf("after set = %v, want the day off", got)
	}
	if src.calls != 3 {
		t.Errorf("source calls = %d, want 3", src.calls)
	}
}

func TestCapacityCache_DropsUndecodableEntry(t *testing.T) {
	mr, rdb := newMiniredis(t)
	src := &countingSource{overrides: map[time.Time]float64{mustDay("2024-01-10"): 4}}
	c := NewCapacityCache(src, rdb, time.Minute, zap.NewNop())

	key := rangeKey("emp-1", mustDay("2024-01-10"), mustDay("2024-01-10"))
	if err := mr.Set(key, "not json"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.FindDailyCapacityOverride(context.Background(), "emp-1", mustDay("2024-01-10"))
	if err != nil || !ok || v != 4 {
		t.Fatalf("FindDailyCapacityOverride() = %v, %v, %v", v, ok, err)
	}
	if raw, _ := mr.Get(key); raw != `{"2024-01-10":4}` {
		t.Errorf("entry = %q, want it rewritten from the source", raw)
	}
}

func TestCapacityCache_ReadOnlySource(t *testing.T) {
	_, rdb := newMiniredis(t)
	c := NewCapacityCache(readOnlySource{}, rdb, time.Minute, zap.NewNop())
	if err := c.SetDailyCapacity(context.Background(), "emp-1", mustDay("2024-01-10"), 4); !errors.Is(err, engine.ErrCapacityReadOnly) {
		t.Errorf("err = %v, want ErrCapacityReadOnly", err)
	}
}

type readOnlySource struct{}

func (readOnlySource) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	return 0, false, nil
}

func (readOnlySource) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	return map[time.Time]float64{}, nil
}
