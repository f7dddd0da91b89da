package sqldb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := NewDB(Config{
		Driver:  DriverSQLite,
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(db))

	var version int
	require.NoError(t, db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)
}

func TestNotificationAppendAssignsSequentialSeq(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	for i := 1; i <= 3; i++ {
		n := &model.Notification{RecipientID: "u1", Kind: model.NotificationKindStatusChanged, Title: "t", Body: "b"}
		id, err := repo.Append(ctx, n)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, uint64(i), n.Seq)
		assert.False(t, n.Read)
	}

	other := &model.Notification{RecipientID: "u2", Title: "t", Body: "b"}
	_, err := repo.Append(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Seq)
	assert.Equal(t, model.NotificationKindGeneric, other.Kind)
}

func TestNotificationAppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	_, err := repo.Append(ctx, &model.Notification{Title: "t"})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))

	_, err = repo.Append(ctx, &model.Notification{RecipientID: "u1", Kind: "bogus"})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
}

func TestNotificationAppendConcurrentSeqUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	const n = 20
	var wg sync.WaitGroup
	seqs := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notif := &model.Notification{RecipientID: "u1", Title: "t", Body: "b"}
			_, err := repo.Append(ctx, notif)
			assert.NoError(t, err)
			seqs <- notif.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := map[uint64]bool{}
	for s := range seqs {
		assert.False(t, seen[s], "seq %d assigned twice", s)
		seen[s] = true
	}
	for i := uint64(1); i <= n; i++ {
		assert.True(t, seen[i], "seq %d missing", i)
	}
}

func TestNotificationListFor(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, &model.Notification{RecipientID: "u1", Title: fmt.Sprintf("n%d", i+1)})
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, &model.Notification{RecipientID: "u2", Title: "other"})
	require.NoError(t, err)

	all, err := repo.ListFor(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, n := range all {
		assert.Equal(t, uint64(i+1), n.Seq)
		assert.Equal(t, "u1", n.RecipientID)
	}

	since, err := repo.ListFor(ctx, "u1", 3, 0)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "n4", since[0].Title)

	limited, err := repo.ListFor(ctx, "u1", 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, uint64(2), limited[1].Seq)

	none, err := repo.ListFor(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestNotificationMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	id, err := repo.Append(ctx, &model.Notification{RecipientID: "u1", Title: "t"})
	require.NoError(t, err)
	_, err = repo.Append(ctx, &model.Notification{RecipientID: "u1", Title: "t2"})
	require.NoError(t, err)

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	changed, err := repo.MarkRead(ctx, id)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkRead(ctx, id)
	require.NoError(t, err)
	assert.False(t, changed)

	count, err = repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := repo.ListFor(ctx, "u1", 0, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
	assert.NotNil(t, list[0].ReadAt)

	_, err = repo.MarkRead(ctx, uuid.New().String())
	assert.True(t, errors.IsNotFound(err))
}

func newRequest(customer string) *model.ServiceRequest {
	now := time.Now().UTC()
	return &model.ServiceRequest{
		ID:          uuid.New().String(),
		CustomerID:  customer,
		State:       model.RequestStatePending,
		Description: "flat tyre",
		Location:    "A1 km 12",
		History: model.History{{
			State: model.RequestStatePending, ActorID: customer, ActorRole: model.RoleCustomer, At: now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRequestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(NewBaseRepository(newTestDB(t)))

	req := newRequest("c1")
	require.NoError(t, repo.Create(ctx, req))

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatePending, got.State)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.SubStatus)
	require.Len(t, got.History, 1)
	assert.Equal(t, "c1", got.History[0].ActorID)

	worker := "w1"
	sub := model.SubStatusAssigned
	got.WorkerID = &worker
	got.SubStatus = &sub
	got.State = model.RequestStateWorkerAssigned
	got.History = append(got.History, model.HistoryEntry{
		State: got.State, SubStatus: &sub, ActorID: "a1", ActorRole: model.RoleAdmin, At: time.Now().UTC(),
	})
	got.Version = 2
	require.NoError(t, repo.Update(ctx, got, 1))

	again, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStateWorkerAssigned, again.State)
	require.NotNil(t, again.WorkerID)
	assert.Equal(t, "w1", *again.WorkerID)
	require.NotNil(t, again.SubStatus)
	assert.Equal(t, model.SubStatusAssigned, *again.SubStatus)
	assert.Len(t, again.History, 2)
	assert.Equal(t, 2, again.Version)

	// stale version
	err = repo.Update(ctx, got, 1)
	assert.True(t, errors.IsPersistence(err))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	base := NewBaseRepository(newTestDB(t))
	notifications := NewNotificationRepository(base)
	requests := NewRequestRepository(base)

	req := newRequest("c1")
	boom := fmt.Errorf("boom")
	err := base.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, requests.Create(ctx, req))
		_, err := notifications.Append(ctx, &model.Notification{RecipientID: "c1", Title: "t"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = requests.Get(ctx, req.ID)
	assert.True(t, errors.IsNotFound(err))

	list, err := notifications.ListFor(ctx, "c1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the seq reservation rolled back with it
	n := &model.Notification{RecipientID: "c1", Title: "t"}
	_, err = notifications.Append(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n.Seq)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(NewBaseRepository(newTestDB(t)))

	require.Error(t, repo.Create(ctx, &model.OutboxEvent{EventType: "x"}))

	evt := &model.OutboxEvent{EventType: "request.claim", Payload: []byte(`{"request_id":"r1"}`)}
	require.NoError(t, repo.Create(ctx, evt))
	require.NotEmpty(t, evt.ID)

	pending, err := repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"request_id":"r1"}`, string(pending[0].Payload))

	future := time.Now().UTC().Add(time.Hour)
	msg := "broker down"
	require.NoError(t, repo.UpdateStatus(ctx, evt.ID, model.OutboxStatusRetry, &msg, &future))

	pending, err = repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	past := time.Now().UTC().Add(-time.Second)
	require.NoError(t, repo.UpdateStatus(ctx, evt.ID, model.OutboxStatusRetry, &msg, &past))
	pending, err = repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)

	require.NoError(t, repo.UpdateStatus(ctx, evt.ID, model.OutboxStatusProcessed, nil, nil))
	pending, err = repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	deleted, err := repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	for _, u := range []struct{ id, role string }{{"a2", "admin"}, {"a1", "admin"}, {"w1", "worker"}} {
		_, err := db.Exec("INSERT INTO users (id, role) VALUES (?, ?)", u.id, u.role)
		require.NoError(t, err)
	}

	dir := NewCachedDirectory(NewUserDirectory(NewBaseRepository(db)), time.Minute)
	admins, err := dir.ListIDsByRole(ctx, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, admins)

	_, err = db.Exec("INSERT INTO users (id, role) VALUES (?, ?)", "a3", "admin")
	require.NoError(t, err)

	cached, err := dir.ListIDsByRole(ctx, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, cached)

	customers, err := dir.ListIDsByRole(ctx, model.RoleCustomer)
	require.NoError(t, err)
	assert.Empty(t, customers)
}

func TestNotificationGet(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(NewBaseRepository(newTestDB(t)))

	related := "r1"
	n := &model.Notification{RecipientID: "u1", Kind: model.NotificationKindTaskAssigned, Title: "t", RelatedRequestID: &related}
	id, err := repo.Append(ctx, n)
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.RecipientID)
	assert.Equal(t, model.NotificationKindTaskAssigned, got.Kind)
	require.NotNil(t, got.RelatedRequestID)
	assert.Equal(t, "r1", *got.RelatedRequestID)

	_, err = repo.Get(ctx, uuid.New().String())
	assert.True(t, errors.IsNotFound(err))
}
