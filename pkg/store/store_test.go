package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
)

func trackerFixture() model.MessageTracker {
	return model.MessageTracker{
		MappingID:         "m1",
		SourceMsgID:       100,
		SourceChatID:      7,
		DestinationChatID: 9,
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewFromDB(sqlx.NewDb(db, "pgx")), mock
}

func TestFindTracker_NotFoundIsEmptyResult(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM message_trackers`).
		WithArgs("m1", int64(100), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := s.FindTracker(context.Background(), s.Q(), "m1", 100, 7)
	if err != nil {
		t.Fatalf("expected nil error for missing tracker, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing tracker")
	}
}

func TestPutTracker_UniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO message_trackers`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "message_trackers_mapping_id_source_chat_id_source_msg_id_key"})

	_, err := s.PutTracker(context.Background(), s.Q(), trackerFixture())
	if !relayerr.Is(err, relayerr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestClassify_SerializationFailureIsStoreBusy(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "40001"})
	if !relayerr.Is(err, relayerr.KindStoreBusy) {
		t.Fatalf("expected StoreBusy, got %v", err)
	}
}

func TestRetryBusy_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryBusy(context.Background(), 5, func() error {
		calls++
		if calls < 3 {
			return relayerr.New(relayerr.KindStoreBusy, "contention")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryBusy_DoesNotRetryOtherKinds(t *testing.T) {
	calls := 0
	err := RetryBusy(context.Background(), 5, func() error {
		calls++
		return relayerr.New(relayerr.KindConflict, "duplicate")
	})
	if !relayerr.Is(err, relayerr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (Conflict must not retry)", calls)
	}
}

func TestRetryBusy_ExhaustsBudget(t *testing.T) {
	start := time.Now()
	calls := 0
	err := RetryBusy(context.Background(), 3, func() error {
		calls++
		return relayerr.New(relayerr.KindStoreBusy, "contention")
	})
	if !relayerr.Is(err, relayerr.KindStoreBusy) {
		t.Fatalf("expected StoreBusy after exhaustion, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff slept far longer than the budget implies")
	}
}
