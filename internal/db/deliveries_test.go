package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-relay/internal/models"
)

type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	execErr  error

	queryArgs []any
	rows      *fakeRows
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeQuerier) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.queryArgs = args
	return f.rows, nil
}

// fakeRows yields deliveries in order.
type fakeRows struct {
	data   []models.Delivery
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) != 8 {
		return errors.New("unexpected column count")
	}
	d := r.data[r.pos-1]
	*dest[0].(*pgtype.UUID) = pgtype.UUID{Bytes: [16]byte(d.EventID), Valid: true}
	*dest[1].(*string) = d.Title
	*dest[2].(*string) = d.Message
	*dest[3].(*string) = d.Sender
	*dest[4].(*string) = d.SourceApp
	*dest[5].(*bool) = d.IsPriority
	*dest[6].(*time.Time) = d.EventTime
	*dest[7].(*time.Time) = d.DeliveredAt
	return nil
}

func TestRecordDelivery(t *testing.T) {
	q := &fakeQuerier{}
	d := &DB{q: q}
	ev := models.RelayEvent{ID: uuid.New(), Title: "Alice", Message: "hi", SenderLabel: "Windows (Slack)", SourceApp: "Slack", IsPriority: true, Timestamp: time.Now()}

	require.NoError(t, d.RecordDelivery(context.Background(), ev))
	require.Len(t, q.execArgs, 1)
	args := q.execArgs[0]
	assert.Equal(t, pgtype.UUID{Bytes: [16]byte(ev.ID), Valid: true}, args[0])
	assert.Equal(t, "Windows (Slack)", args[3])
	assert.Equal(t, true, args[5])
	assert.Contains(t, q.execSQL[0], "ON CONFLICT (event_id) DO NOTHING")
}

func TestRecordDelivery_Error(t *testing.T) {
	d := &DB{q: &fakeQuerier{execErr: errors.New("connection reset")}}
	err := d.RecordDelivery(context.Background(), models.RelayEvent{ID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record delivery")
}

func TestRecentDeliveries(t *testing.T) {
	want := []models.Delivery{
		{EventID: uuid.New(), Title: "second", DeliveredAt: time.Unix(200, 0).UTC()},
		{EventID: uuid.New(), Title: "first", DeliveredAt: time.Unix(100, 0).UTC()},
	}
	rows := &fakeRows{data: want}
	q := &fakeQuerier{rows: rows}
	d := &DB{q: q}

	got, err := d.RecentDeliveries(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []any{DefaultDeliveriesLimit}, q.queryArgs)
	assert.True(t, rows.closed)
}

func TestEnsureSchema(t *testing.T) {
	q := &fakeQuerier{}
	require.NoError(t, (&DB{q: q}).EnsureSchema(context.Background()))
	assert.Contains(t, q.execSQL[0], "CREATE TABLE IF NOT EXISTS relay_deliveries")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultDeliveriesLimit, ClampLimit(0))
	assert.Equal(t, DefaultDeliveriesLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxDeliveriesLimit, ClampLimit(10000))
}
