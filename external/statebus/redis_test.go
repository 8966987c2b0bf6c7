package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/go-redis/redismock/v9"
)

func TestSend_SetsLatestThenPublishes(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewRedisPublisher(client, "kikitori:events", "kikitori:state")

	n := session.NewNotification(session.Change{State: session.Idle(), SessionID: "s-1"})
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	mock.ExpectSet("kikitori:state", string(b), 0).SetVal("OK")
	mock.ExpectPublish("kikitori:events", string(b)).SetVal(1)

	if err := p.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestSend_StopsWhenSetFails(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewRedisPublisher(client, "kikitori:events", "kikitori:state")

	n := session.Notification{State: "idle", Label: "Idle"}
	b, _ := json.Marshal(n)
	boom := errors.New("connection refused")
	mock.ExpectSet("kikitori:state", string(b), 0).SetErr(boom)

	if err := p.Send(context.Background(), n); !errors.Is(err, boom) {
		t.Fatalf("expected set error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestLatest_DecodesStoredNotification(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewRedisPublisher(client, "kikitori:events", "kikitori:state")

	mock.ExpectGet("kikitori:state").SetVal(`{"state":"recording","label":"Recording","text":"hello"}`)
	n, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == nil || n.State != "recording" || n.Text != "hello" {
		t.Fatalf("unexpected notification: %+v", n)
	}

	mock.ExpectGet("kikitori:state").RedisNil()
	n, err = p.Latest(context.Background())
	if err != nil || n != nil {
		t.Fatalf("expected no stored notification, got %+v %v", n, err)
	}
}

func TestLogPreviousState_ReadsStoredKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewRedisPublisher(client, "kikitori:events", "kikitori:state")

	mock.ExpectGet("kikitori:state").SetVal(`{"state":"idle","label":"Idle"}`)
	logPreviousState(p, "kikitori:state")
	mock.ExpectGet("kikitori:state").SetErr(errors.New("connection refused"))
	logPreviousState(p, "kikitori:state")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}
