package domain_test

import (
	"errors"
	"testing"

	"vn.io.arda/pinnotify/internal/domain"
)

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantErr  bool
		wantType domain.NotificationType
		wantAgg  int
	}{
		{"full payload", `{"id":"n1","type":"PIN_LIKED","status":"UNREAD","actorId":"u1","uniqueActorCount":2,"aggregatedCount":3}`, false, domain.TypePinLiked, 3},
		{"defaults counters", `{"id":"n1","type":"PIN_SAVED","status":"READ","actorId":"u1"}`, false, domain.TypePinSaved, 1},
		{"unknown type falls back", `{"id":"n1","type":"BOARD_INVITE","actorId":"u1"}`, false, domain.TypeUnknown, 1},
		{"missing id", `{"type":"PIN_LIKED","actorId":"u1"}`, true, "", 0},
		{"bad status", `{"id":"n1","status":"ARCHIVED","actorId":"u1"}`, true, "", 0},
		{"aggregated below unique", `{"id":"n1","actorId":"u1","uniqueActorCount":3,"aggregatedCount":2}`, true, "", 0},
		{"not json", `nope`, true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := domain.DecodeNotification([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMalformedPayload) {
					t.Fatalf("expected ErrMalformedPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.Type != tt.wantType {
				t.Errorf("type = %s, want %s", n.Type, tt.wantType)
			}
			if n.AggregatedCount != tt.wantAgg {
				t.Errorf("aggregatedCount = %d, want %d", n.AggregatedCount, tt.wantAgg)
			}
			if n.Status == "" {
				t.Error("status should default")
			}
		})
	}
}

func TestWithStatusKeepsAggregation(t *testing.T) {
	n := domain.Notification{ID: "n1", Status: domain.StatusUnread, UniqueActorCount: 2, AggregatedCount: 5, RecentActorIDs: []string{"a"}}
	r := n.WithStatus(domain.StatusRead)
	if r.Status != domain.StatusRead || n.Status != domain.StatusUnread {
		t.Fatal("WithStatus must return a modified copy")
	}
	if r.AggregatedCount != 5 || r.UniqueActorCount != 2 {
		t.Fatal("aggregation fields changed")
	}
}

func TestFold(t *testing.T) {
	n := domain.Notification{ID: "n1", ActorID: "a", UniqueActorCount: 1, AggregatedCount: 1}

	n = domain.Fold(n, domain.ActivityInput{ActorID: "b"})
	if n.ActorID != "b" || n.UniqueActorCount != 2 || n.AggregatedCount != 2 {
		t.Fatalf("unexpected fold result: %+v", n)
	}
	if len(n.RecentActorIDs) != 1 || n.RecentActorIDs[0] != "a" {
		t.Fatalf("recent actors = %v", n.RecentActorIDs)
	}

	// same actor again only bumps the event count
	n = domain.Fold(n, domain.ActivityInput{ActorID: "b"})
	if n.UniqueActorCount != 2 || n.AggregatedCount != 3 {
		t.Fatalf("repeat actor: %+v", n)
	}

	for _, actor := range []string{"c", "d", "e"} {
		n = domain.Fold(n, domain.ActivityInput{ActorID: actor})
	}
	if len(n.RecentActorIDs) != domain.MaxRecentActors {
		t.Fatalf("recent actors not bounded: %v", n.RecentActorIDs)
	}
	if n.RecentActorIDs[0] != "d" {
		t.Fatalf("previous primary actor should lead recent list: %v", n.RecentActorIDs)
	}
	if n.UniqueActorCount != 5 || n.AggregatedCount < n.UniqueActorCount {
		t.Fatalf("counter invariant broken: %+v", n)
	}
}
