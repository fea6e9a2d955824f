package tsdb_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
)

// recordingSender records every batch and fails while failing is set.
type recordingSender struct {
	mu      sync.Mutex
	batches [][]string
	calls   int
	failing bool

	// block, when set, is received from before each send completes.
	block chan error
}

func (s *recordingSender) Send(ctx context.Context, lines []string) error {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		if err := <-block; err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("send refused")
	}
	batch := make([]string, len(lines))
	copy(batch, lines)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSender) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *recordingSender) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *recordingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig(batchSize int, interval time.Duration) config.TSDBConfig {
	return config.TSDBConfig{
		URL:           "http://127.0.0.1:8428",
		BatchSize:     batchSize,
		FlushInterval: interval,
	}
}

func newTestClient(t *testing.T, cfg config.TSDBConfig, sender tsdb.Sender) *tsdb.Client {
	t.Helper()
	client, err := tsdb.New(cfg, tsdb.WithSender(sender))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client
}

func point(i int) tsdb.Point {
	p := tsdb.Point{Measurement: "m"}
	p.AddField("i", i)
	return p
}

func line(i int) string {
	return fmt.Sprintf("m i=%d", i)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresURL(t *testing.T) {
	_, err := tsdb.New(config.TSDBConfig{})
	if err == nil {
		t.Fatal("New() should return error for empty URL")
	}
}

func TestNew_DefaultBatchSize(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(0, time.Hour), sender)

	for i := 0; i < 999; i++ {
		if err := client.WritePoint(point(i)); err != nil {
			t.Fatalf("WritePoint() error = %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if sender.Calls() != 0 {
		t.Fatalf("sends before default batch size reached = %d, want 0", sender.Calls())
	}

	if err := client.WritePoint(point(999)); err != nil {
		t.Fatalf("WritePoint() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sender.Batches()) == 1 })
	if got := len(sender.Batches()[0]); got != 1000 {
		t.Errorf("batch length = %d, want 1000", got)
	}
}

// =============================================================================
// Threshold and timer
// =============================================================================

func TestWritePoint_ThresholdTriggersFlush(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(3, time.Hour), sender)

	_ = client.WritePoint(point(1))
	_ = client.WritePoint(point(2))

	time.Sleep(20 * time.Millisecond)
	if sender.Calls() != 0 {
		t.Fatalf("flush triggered after batchSize-1 writes, calls = %d", sender.Calls())
	}
	if client.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", client.Pending())
	}

	_ = client.WritePoint(point(3))

	waitFor(t, time.Second, func() bool { return len(sender.Batches()) == 1 })
	want := []string{line(1), line(2), line(3)}
	got := sender.Batches()[0]
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("batch = %v, want %v", got, want)
	}
	waitFor(t, time.Second, func() bool { return client.Pending() == 0 })
}

func TestFlushInterval_SendsPartialBatch(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(100, 20*time.Millisecond), sender)

	_ = client.WritePoint(point(1))

	waitFor(t, time.Second, func() bool { return len(sender.Batches()) == 1 })
	if got := sender.Batches()[0]; len(got) != 1 || got[0] != line(1) {
		t.Errorf("batch = %v, want [%s]", got, line(1))
	}
}

func TestFlushInterval_KeepsRunningAfterFailure(t *testing.T) {
	sender := &recordingSender{failing: true}
	client := newTestClient(t, testConfig(100, 10*time.Millisecond), sender)

	var mu sync.Mutex
	var reported []error
	client.SetOnError(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	_ = client.WritePoint(point(1))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) >= 2
	})
	if client.Pending() != 1 {
		t.Errorf("Pending() while failing = %d, want 1", client.Pending())
	}

	sender.setFailing(false)
	waitFor(t, time.Second, func() bool { return len(sender.Batches()) == 1 })
	if client.Pending() != 0 {
		t.Errorf("Pending() after recovery = %d, want 0", client.Pending())
	}
}

// =============================================================================
// Encoding failures
// =============================================================================

func TestWritePoint_EncodingErrorNeverQueued(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(10, time.Hour), sender)

	err := client.WritePoint(tsdb.Point{Measurement: "empty"})
	if !errors.Is(err, tsdb.ErrNoFields) {
		t.Fatalf("WritePoint() error = %v, want ErrNoFields", err)
	}
	var encErr *tsdb.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("WritePoint() error type = %T, want *EncodingError", err)
	}
	if client.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", client.Pending())
	}

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if sender.Calls() != 0 {
		t.Errorf("sender called %d times for an empty queue", sender.Calls())
	}
}

func TestWriteLine(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(10, time.Hour), sender)

	if err := client.WriteLine("cpu value=1 "); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if err := client.WriteLine("a=1\nb=2"); !errors.Is(err, tsdb.ErrInvalidLine) {
		t.Errorf("WriteLine(multi-line) error = %v, want ErrInvalidLine", err)
	}
	if err := client.WriteLine(""); !errors.Is(err, tsdb.ErrInvalidLine) {
		t.Errorf("WriteLine(empty) error = %v, want ErrInvalidLine", err)
	}

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	batches := sender.Batches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "cpu value=1" {
		t.Errorf("batches = %v, want [[cpu value=1]]", batches)
	}
}

func TestWriteLine_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"bare word", "hello"},
		{"words without fields", "not line protocol"},
		{"measurement only", "cpu"},
		{"missing field value", "cpu value="},
		{"tags without fields", "cpu,host=a "},
		{"comment", "# just a comment"},
		{"bad timestamp", "cpu value=1 soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, testConfig(10, time.Hour), &recordingSender{})

			err := client.WriteLine(tt.line)
			if !errors.Is(err, tsdb.ErrInvalidLine) {
				t.Errorf("WriteLine(%q) error = %v, want ErrInvalidLine", tt.line, err)
			}
			var encErr *tsdb.EncodingError
			if !errors.As(err, &encErr) {
				t.Errorf("WriteLine(%q) error type = %T, want *EncodingError", tt.line, err)
			}
			if n := client.Pending(); n != 0 {
				t.Errorf("Pending() = %d, want 0", n)
			}
		})
	}
}

func TestWriteLine_MalformedDoesNotHoldBackDelivery(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(10, time.Hour), sender)

	if err := client.WriteLine("not line protocol"); err == nil {
		t.Fatal("WriteLine() should reject a malformed line")
	}
	if err := client.WriteLine(line(1)); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	batches := sender.Batches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != line(1) {
		t.Errorf("batches = %v, want [[%s]]", batches, line(1))
	}
	if n := client.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

// =============================================================================
// Retry ordering
// =============================================================================

func TestFlush_FailureRequeuesAtHead(t *testing.T) {
	sender := &recordingSender{failing: true}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	var reported error
	client.SetOnError(func(err error) { reported = err })

	_ = client.WritePoint(point(1))
	_ = client.WritePoint(point(2))

	if err := client.Flush(context.Background()); err == nil {
		t.Fatal("Flush() should return the send error")
	}
	if reported == nil {
		t.Error("onError not invoked for failed flush")
	}
	if client.Pending() != 2 {
		t.Fatalf("Pending() after failed flush = %d, want 2", client.Pending())
	}

	_ = client.WritePoint(point(3))
	sender.setFailing(false)

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	batches := sender.Batches()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	want := []string{line(1), line(2), line(3)}
	if fmt.Sprint(batches[0]) != fmt.Sprint(want) {
		t.Errorf("retried batch = %v, want %v", batches[0], want)
	}
}

func TestFlush_WritesDuringSendAreNotInSnapshot(t *testing.T) {
	sender := &recordingSender{block: make(chan error)}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	_ = client.WritePoint(point(1))
	_ = client.WritePoint(point(2))

	flushErr := make(chan error, 1)
	go func() { flushErr <- client.Flush(context.Background()) }()

	waitFor(t, time.Second, func() bool { return sender.Calls() == 1 })

	// The snapshot is in flight; this write must wait for the next cycle.
	_ = client.WritePoint(point(3))
	if client.Pending() != 1 {
		t.Errorf("Pending() during send = %d, want 1", client.Pending())
	}

	// Fail the in-flight send.
	sender.block <- errors.New("timeout")
	if err := <-flushErr; err == nil {
		t.Fatal("Flush() should fail")
	}
	if client.Pending() != 3 {
		t.Fatalf("Pending() after re-queue = %d, want 3", client.Pending())
	}

	sender.mu.Lock()
	sender.block = nil
	sender.mu.Unlock()

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	want := []string{line(1), line(2), line(3)}
	if got := sender.Batches()[0]; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("batch = %v, want %v", got, want)
	}
}

func TestFlush_ConcurrentCallsSerialise(t *testing.T) {
	sender := &recordingSender{block: make(chan error)}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	_ = client.WritePoint(point(1))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Flush(context.Background())
		}()
	}

	waitFor(t, time.Second, func() bool { return sender.Calls() == 1 })
	time.Sleep(20 * time.Millisecond)
	if sender.Calls() != 1 {
		t.Fatalf("concurrent sends = %d, want 1", sender.Calls())
	}

	sender.block <- nil
	wg.Wait()

	if got := len(sender.Batches()); got != 1 {
		t.Errorf("batches = %d, want 1", got)
	}
}

func TestClient_ConcurrentWritersNoLossNoDuplicates(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(7, 5*time.Millisecond), sender)

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p := tsdb.Point{Measurement: "m"}
				p.AddTag("w", fmt.Sprint(w))
				p.AddField("i", i)
				if err := client.WritePoint(p); err != nil {
					t.Errorf("WritePoint() error = %v", err)
				}
				if i%50 == 0 {
					_ = client.Flush(context.Background())
				}
			}
		}(w)
	}
	wg.Wait()

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	seen := make(map[string]int)
	last := make(map[string]int)
	for _, batch := range sender.Batches() {
		for _, l := range batch {
			seen[l]++
			var w, i int
			if _, err := fmt.Sscanf(l, "m,w=%d i=%d", &w, &i); err != nil {
				t.Fatalf("unexpected line %q", l)
			}
			key := fmt.Sprint(w)
			if prev, ok := last[key]; ok && i <= prev {
				t.Errorf("writer %d out of order: %d after %d", w, i, prev)
			}
			last[key] = i
		}
	}

	if len(seen) != writers*perWriter {
		t.Errorf("distinct lines delivered = %d, want %d", len(seen), writers*perWriter)
	}
	for l, n := range seen {
		if n != 1 {
			t.Errorf("line %q delivered %d times", l, n)
		}
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose_FlushesRemaining(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	_ = client.WritePoint(point(1))
	_ = client.WritePoint(point(2))

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.Pending() != 0 {
		t.Errorf("Pending() after Close = %d, want 0", client.Pending())
	}
	if got := len(sender.Batches()); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}
	if !client.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
}

func TestClose_StopsTimer(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(100, 5*time.Millisecond), sender)

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A write after Close is rejected, so any timer flush would have nothing
	// to send; count sender calls instead.
	calls := sender.Calls()
	time.Sleep(30 * time.Millisecond)
	if sender.Calls() != calls {
		t.Errorf("sender called %d times after Close", sender.Calls()-calls)
	}
}

func TestClose_Idempotent(t *testing.T) {
	sender := &recordingSender{}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	_ = client.WritePoint(point(1))

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := len(sender.Batches()); got != 1 {
		t.Errorf("batches = %d, want 1", got)
	}
}

func TestClose_ReturnsFinalFlushError(t *testing.T) {
	sender := &recordingSender{failing: true}
	client := newTestClient(t, testConfig(100, time.Hour), sender)

	_ = client.WritePoint(point(1))

	if err := client.Close(context.Background()); err == nil {
		t.Fatal("Close() should return the final flush error")
	}
	if client.Pending() != 1 {
		t.Errorf("Pending() after failed Close = %d, want 1", client.Pending())
	}
}

func TestWritePoint_AfterClose(t *testing.T) {
	client := newTestClient(t, testConfig(100, time.Hour), &recordingSender{})
	_ = client.Close(context.Background())

	if err := client.WritePoint(point(1)); !errors.Is(err, tsdb.ErrClosed) {
		t.Errorf("WritePoint() after Close error = %v, want ErrClosed", err)
	}
	if _, err := client.Query(context.Background(), "up"); !errors.Is(err, tsdb.ErrClosed) {
		t.Errorf("Query() after Close error = %v, want ErrClosed", err)
	}
}

func TestClose_RacingWritersNeverStranded(t *testing.T) {
	for round := 0; round < 20; round++ {
		sender := &recordingSender{}
		client := newTestClient(t, testConfig(1000, time.Hour), sender)

		const writers = 4
		var accepted sync.WaitGroup
		var mu sync.Mutex
		ok := 0

		start := make(chan struct{})
		for w := 0; w < writers; w++ {
			accepted.Add(1)
			go func() {
				defer accepted.Done()
				<-start
				for i := 0; ; i++ {
					if err := client.WritePoint(point(i)); err != nil {
						if !errors.Is(err, tsdb.ErrClosed) {
							t.Errorf("WritePoint() error = %v", err)
						}
						return
					}
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}

		close(start)
		time.Sleep(time.Millisecond)
		if err := client.Close(context.Background()); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		accepted.Wait()

		sent := 0
		for _, batch := range sender.Batches() {
			sent += len(batch)
		}
		if sent != ok {
			t.Fatalf("round %d: delivered %d lines, %d writes returned nil", round, sent, ok)
		}
		if n := client.Pending(); n != 0 {
			t.Fatalf("round %d: Pending() after Close = %d, want 0", round, n)
		}
	}
}

func TestClose_NilClient(t *testing.T) {
	var client *tsdb.Client
	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
