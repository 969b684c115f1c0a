package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/repo"
)

const userID = "3f1c2a9e-8d7b-4c6a-9e5f-1a2b3c4d5e6f"

type published struct {
	topic string
	data  any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	ok     bool
	err    error
}

func (p *fakePublisher) PublishEvent(ctx context.Context, topic string, data any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil || !p.ok {
		return false, p.err
	}
	p.events = append(p.events, published{topic: topic, data: data})
	return true, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService(pub *fakePublisher) (*Service, *repo.MemoryStore) {
	store := repo.NewMemoryStore()
	svc := New(Config{
		Store:     store,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, store
}

func eventTypes(logs []domain.EventLog) []string {
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.EventType)
	}
	return out
}

func TestCreateInput_Validate(t *testing.T) {
	cases := []struct {
		name  string
		input CreateInput
		ok    bool
	}{
		{"valid", CreateInput{UserID: userID, Name: "ma-cross"}, true},
		{"empty name", CreateInput{UserID: userID, Name: "  "}, false},
		{"long name", CreateInput{UserID: userID, Name: strings.Repeat("a", MaxNameLength+1)}, false},
		{"max name", CreateInput{UserID: userID, Name: strings.Repeat("я", MaxNameLength)}, true},
		{"bad user", CreateInput{UserID: "user-1", Name: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.input.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestCreate_PublishesRequested(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, store := newTestService(pub)

	created, err := svc.Create(context.Background(), CreateInput{
		UserID:      userID,
		Name:        "ma-cross",
		Description: "moving average crossover",
	})
	require.NoError(t, err)
	assert.True(t, created.Requested)
	assert.Equal(t, domain.StatusPending, created.Strategy.Status)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, domain.EventStrategyRequested, pub.events[0].topic)

	ev, ok := pub.events[0].data.(RequestedEvent)
	require.True(t, ok)
	assert.Equal(t, created.Strategy.ID, ev.StrategyID)
	assert.Equal(t, userID, ev.UserID)
	assert.Equal(t, "moving average crossover", ev.Description)
	assert.Equal(t, domain.StatusPending, ev.Status)
	assert.Equal(t, created.Strategy.CreatedAt, ev.CreatedAt)

	logs, err := store.ListEventLogs(context.Background(), created.Strategy.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventStrategyRequested, domain.EventStrategyCreated}, eventTypes(logs))
}

func TestCreate_PublishFailureKeepsStrategy(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no channel")}
	svc, store := newTestService(pub)

	created, err := svc.Create(context.Background(), CreateInput{UserID: userID, Name: "x"})
	require.NoError(t, err)
	assert.False(t, created.Requested)

	st, err := store.GetByID(context.Background(), created.Strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st.Status)

	logs, err := store.ListEventLogs(context.Background(), st.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventStrategyCreated}, eventTypes(logs))

	stale, err := store.ListStalePending(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, st.ID, stale[0].ID)
}

func TestCreate_InvalidInput(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, _ := newTestService(pub)

	_, err := svc.Create(context.Background(), CreateInput{UserID: "nope", Name: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, pub.count())
}

func TestCreate_StoreFailureRollsBack(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, store := newTestService(pub)
	store.FailOn(repo.OpAppendAuditRecord, repo.ErrUnavailable)

	_, err := svc.Create(context.Background(), CreateInput{UserID: userID, Name: "x"})
	assert.ErrorIs(t, err, repo.ErrUnavailable)
	assert.Equal(t, 0, pub.count())

	list, err := store.ListByUser(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRequestValidation_NotAccepted(t *testing.T) {
	pub := &fakePublisher{ok: false}
	svc, store := newTestService(pub)

	st := &domain.Strategy{UserID: userID, Name: "x"}
	require.NoError(t, store.Create(context.Background(), st))

	ok, err := svc.RequestValidation(context.Background(), st)
	assert.False(t, ok)
	assert.Error(t, err)

	logs, err := store.ListEventLogs(context.Background(), st.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestStatusAndEventLogs(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, store := newTestService(pub)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{UserID: userID, Name: "x"})
	require.NoError(t, err)
	id := created.Strategy.ID

	require.NoError(t, store.UpdateStatus(ctx, id, domain.StatusValidated))

	info, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, info.StrategyID)
	assert.Equal(t, domain.StatusValidated, info.Status)

	logs, err := svc.EventLogs(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	logs, err = svc.EventLogs(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMetrics(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, store := newTestService(pub)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{UserID: userID, Name: "x"})
	require.NoError(t, err)
	id := created.Strategy.ID

	m, err := svc.Metrics(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, m.LatestBacktest)
	assert.Len(t, m.RecentEvents, 2)

	require.NoError(t, store.CreateBacktestResult(ctx, &domain.BacktestResult{
		StrategyID:         id,
		PerformanceMetrics: map[string]any{"sharpe": 1.2},
	}))
	for i := 0; i < 12; i++ {
		_, err := store.AppendAuditRecord(ctx, id, domain.EventEvaluationCompleted, nil)
		require.NoError(t, err)
	}

	m, err = svc.Metrics(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.LatestBacktest)
	assert.Equal(t, map[string]any{"sharpe": 1.2}, m.LatestBacktest.PerformanceMetrics)
	assert.Len(t, m.RecentEvents, MetricsEventLimit)
	assert.Equal(t, domain.EventEvaluationCompleted, m.RecentEvents[0].EventType)
}

func TestListByUser(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, _ := newTestService(pub)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := svc.Create(ctx, CreateInput{UserID: userID, Name: name})
		require.NoError(t, err)
	}

	list, err := svc.ListByUser(ctx, userID, 0, -1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func ptr[T any](v T) *T { return &v }

func TestUpdate_AppliesFieldsAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&fakePublisher{ok: true})

	created, err := svc.Create(ctx, CreateInput{UserID: userID, Name: "ma-cross", Description: "old"})
	require.NoError(t, err)
	id := created.Strategy.ID

	st, err := svc.Update(ctx, id, UpdateInput{Name: ptr("ma-cross-v2"), Status: ptr("validated")})
	require.NoError(t, err)
	assert.Equal(t, "ma-cross-v2", st.Name)
	assert.Equal(t, "old", st.Description)
	assert.Equal(t, domain.StatusValidated, st.Status)

	logs, err := store.ListEventLogs(ctx, id, 0)
	require.NoError(t, err)
	assert.Contains(t, eventTypes(logs), domain.EventStrategyUpdated)
}

func TestUpdate_InvalidInput(t *testing.T) {
	svc, store := newTestService(&fakePublisher{ok: true})
	ctx := context.Background()

	st := &domain.Strategy{UserID: userID, Name: "x", Status: domain.StatusPending}
	require.NoError(t, store.Create(ctx, st))

	cases := map[string]UpdateInput{
		"nothing":        {},
		"blank name":     {Name: ptr(" ")},
		"unknown status": {Status: ptr("archived")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Update(ctx, st.ID, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	got, err := store.GetByID(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _ := newTestService(&fakePublisher{ok: true})

	_, err := svc.Update(context.Background(), "0e9d6a55-6b1c-4b8e-9a55-2b7c1e0f4d11", UpdateInput{Name: ptr("y")})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdate_AuditFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&fakePublisher{ok: true})

	st := &domain.Strategy{UserID: userID, Name: "x", Status: domain.StatusPending}
	require.NoError(t, store.Create(ctx, st))
	store.FailOn(repo.OpAppendAuditRecord, repo.ErrUnavailable)

	_, err := svc.Update(ctx, st.ID, UpdateInput{Name: ptr("y")})
	assert.ErrorIs(t, err, repo.ErrUnavailable)

	got, err := store.GetByID(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
}

func TestDelete_KeepsJournal(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&fakePublisher{ok: true})

	created, err := svc.Create(ctx, CreateInput{UserID: userID, Name: "ma-cross"})
	require.NoError(t, err)
	id := created.Strategy.ID

	require.NoError(t, svc.Delete(ctx, id))

	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	logs, err := store.ListEventLogs(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		domain.EventStrategyDeleted,
		domain.EventStrategyRequested,
		domain.EventStrategyCreated,
	}, eventTypes(logs))

	assert.ErrorIs(t, svc.Delete(ctx, id), repo.ErrNotFound)
}

func TestDelete_StoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(&fakePublisher{ok: true})

	st := &domain.Strategy{UserID: userID, Name: "x", Status: domain.StatusPending}
	require.NoError(t, store.Create(ctx, st))
	store.FailOn(repo.OpDelete, repo.ErrUnavailable)

	assert.ErrorIs(t, svc.Delete(ctx, st.ID), repo.ErrUnavailable)

	_, err := store.GetByID(ctx, st.ID)
	require.NoError(t, err)
	logs, err := store.ListEventLogs(ctx, st.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestValidate_DryRun(t *testing.T) {
	pub := &fakePublisher{ok: true}
	svc, store := newTestService(pub)

	report := svc.Validate(CreateInput{UserID: userID, Name: "ma-cross"})
	assert.True(t, report.IsValid)
	assert.Empty(t, report.ValidationErrors)

	report = svc.Validate(CreateInput{UserID: "user-1", Name: ""})
	assert.False(t, report.IsValid)
	assert.Len(t, report.ValidationErrors, 2)

	list, err := store.ListByUser(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, pub.count())
}
