package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

type fakeRules struct {
	calls []string
	got   []model.AvailabilityRule
	err   error

	// failures makes the first n calls fail with err.
	failures int
	onCall   func()
}

func (f *fakeRules) ReplaceRules(_ context.Context, resourceID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	f.calls = append(f.calls, resourceID)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil && (f.failures == 0 || len(f.calls) <= f.failures) {
		return nil, f.err
	}
	f.got = rules
	return rules, nil
}

// fakeReader serves msgs once, then cancels the run.
type fakeReader struct {
	msgs      []kafka.Message
	cancel    context.CancelFunc
	rules     *fakeRules
	committed []string

	// applied records how many rule writes had happened at each commit.
	applied []int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, string(m.Headers[0].Value))
		r.applied = append(r.applied, len(r.rules.calls))
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newConsumer(rules *fakeRules) *Consumer {
	return &Consumer{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		inbox:    inbox.NewMemory(),
		rules:    rules,
		retryMin: time.Millisecond,
		retryMax: 4 * time.Millisecond,
	}
}

func run(c *Consumer, rules *fakeRules, msgs ...kafka.Message) (*fakeReader, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeReader{msgs: msgs, cancel: cancel, rules: rules}
	c.reader = r
	c.Run(ctx)
	return r, cancel
}

func message(id, body string) kafka.Message {
	return kafka.Message{
		Topic:   TopicScheduleUpdated,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(id)}},
		Value:   []byte(body),
	}
}

const update = `{"resource_id":"s1","rules":[{"weekday":1,"start_minute":540,"end_minute":1020,"effective_date":"2024-04-01"}]}`

func TestHandleAppliesOnce(t *testing.T) {
	rules := &fakeRules{}
	c := newConsumer(rules)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.Handle(ctx, message("evt-1", update)); err != nil {
			t.Fatalf("handle #%d: %v", i+1, err)
		}
	}
	if len(rules.calls) != 1 {
		t.Fatalf("expected one apply, got %d", len(rules.calls))
	}
	if len(rules.got) != 1 || rules.got[0].EffectiveDate == nil || rules.got[0].StartMinute != 540 {
		t.Fatalf("unexpected rules: %+v", rules.got)
	}
}

func TestHandleRetriesTransientFailure(t *testing.T) {
	rules := &fakeRules{err: model.Persistence("commit", errors.New("connection reset"))}
	c := newConsumer(rules)
	ctx := context.Background()

	if err := c.Handle(ctx, message("evt-2", update)); err == nil {
		t.Fatal("expected error")
	}
	rules.err = nil
	if err := c.Handle(ctx, message("evt-2", update)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(rules.calls) != 2 {
		t.Fatalf("redelivery should be applied, calls=%d", len(rules.calls))
	}
}

func TestHandleKeepsMalformedRecorded(t *testing.T) {
	rules := &fakeRules{}
	c := newConsumer(rules)
	ctx := context.Background()

	err := c.Handle(ctx, message("evt-3", `{"rules":[]}`))
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := c.Handle(ctx, message("evt-3", `{"rules":[]}`)); err != nil {
		t.Fatalf("redelivery of a malformed event should be ignored, got %v", err)
	}
	if len(rules.calls) != 0 {
		t.Fatalf("malformed event must not reach the manager")
	}
}

func TestRunCommitsOnlyAfterTransientFailureRecovers(t *testing.T) {
	rules := &fakeRules{err: model.Persistence("commit", errors.New("connection reset")), failures: 2}
	c := newConsumer(rules)

	r, cancel := run(c, rules, message("evt-4", update))
	defer cancel()

	if len(rules.calls) != 3 {
		t.Fatalf("expected two retries before success, calls=%d", len(rules.calls))
	}
	if len(r.committed) != 1 || r.applied[0] != 3 {
		t.Fatalf("offset must be committed once, after the update applied: committed=%v applied=%v", r.committed, r.applied)
	}
}

func TestRunLeavesFailingMessageUncommitted(t *testing.T) {
	rules := &fakeRules{err: model.Persistence("commit", errors.New("connection reset"))}
	c := newConsumer(rules)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rules.onCall = func() {
		if len(rules.calls) == 3 {
			cancel()
		}
	}
	r := &fakeReader{msgs: []kafka.Message{message("evt-5", update), message("evt-6", update)}, cancel: cancel, rules: rules}
	c.reader = r
	c.Run(ctx)

	if len(r.committed) != 0 {
		t.Fatalf("nothing should be committed while the update keeps failing, got %v", r.committed)
	}
	if len(r.msgs) != 1 {
		t.Fatalf("the consumer must not move past the failing message")
	}
}

func TestRunCommitsMalformedAndMovesOn(t *testing.T) {
	rules := &fakeRules{}
	c := newConsumer(rules)

	r, cancel := run(c, rules, message("evt-7", `{"rules":[]}`), message("evt-8", update))
	defer cancel()

	if len(r.committed) != 2 || r.committed[0] != "evt-7" || r.committed[1] != "evt-8" {
		t.Fatalf("expected both offsets committed in order, got %v", r.committed)
	}
	if len(rules.calls) != 1 || rules.calls[0] != "s1" {
		t.Fatalf("only the valid update should reach the manager, calls=%v", rules.calls)
	}
}
