package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"github.com/fumbled/jeetboard/internal/models"
)

func testSnapshot() models.LeaderboardSnapshot {
	return models.LeaderboardSnapshot{
		Timeframe: models.TimeframeWeekly,
		Entries: []models.LeaderboardEntry{
			{UserID: "u1", DisplayName: "alice", TotalLoss: 800, JeetScore: 53, Rank: 1},
			{UserID: "u2", DisplayName: "bob", TotalLoss: 200, JeetScore: 13, Rank: 2},
		},
		Stats: models.LeaderboardStats{
			TotalUsers:  2,
			TotalLoss:   1000,
			AverageLoss: 500,
		},
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_SaveSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db, time.Hour)

	snap := testSnapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectSet("jeetboard:snapshot:weekly", payload, time.Hour).SetVal("OK")

	if err := store.SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestStore_LoadSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db, time.Hour)

	snap := testSnapshot()
	payload, _ := json.Marshal(snap)

	t.Run("hit round-trips the snapshot", func(t *testing.T) {
		mock.ExpectGet("jeetboard:snapshot:weekly").SetVal(string(payload))

		loaded, ok, err := store.LoadSnapshot(context.Background(), models.TimeframeWeekly)
		if err != nil {
			t.Fatalf("LoadSnapshot failed: %v", err)
		}
		if !ok {
			t.Fatal("expected a persisted snapshot")
		}
		if len(loaded.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(loaded.Entries))
		}
		if loaded.Entries[0].UserID != "u1" || loaded.Entries[0].Rank != 1 {
			t.Errorf("unexpected top entry: %+v", loaded.Entries[0])
		}
		if loaded.Stats.TotalLoss != 1000 {
			t.Errorf("expected total loss 1000, got %f", loaded.Stats.TotalLoss)
		}
	})

	t.Run("miss reports absent without error", func(t *testing.T) {
		mock.ExpectGet("jeetboard:snapshot:daily").RedisNil()

		_, ok, err := store.LoadSnapshot(context.Background(), models.TimeframeDaily)
		if err != nil {
			t.Fatalf("miss should not error: %v", err)
		}
		if ok {
			t.Error("expected miss")
		}
	})

	t.Run("redis failure surfaces an error", func(t *testing.T) {
		mock.ExpectGet("jeetboard:snapshot:monthly").SetErr(errors.New("connection reset"))

		_, _, err := store.LoadSnapshot(context.Background(), models.TimeframeMonthly)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("corrupt payload surfaces an error", func(t *testing.T) {
		mock.ExpectGet("jeetboard:snapshot:allTime").SetVal("{not json")

		_, _, err := store.LoadSnapshot(context.Background(), models.TimeframeAllTime)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}
