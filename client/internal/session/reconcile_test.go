package session

import (
	"testing"

	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/conn"
)

func TestReconcile(t *testing.T) {
	alice := auth.Identity{Provider: "dev", ProviderSubjectID: "alice"}
	bob := auth.Identity{Provider: "dev", ProviderSubjectID: "bob"}

	none := Pair{}
	aliceA := Pair{Identity: alice, Room: "A"}
	aliceB := Pair{Identity: alice, Room: "B"}
	bobA := Pair{Identity: bob, Room: "A"}
	aliceNoRoom := Pair{Identity: alice}
	roomNoUser := Pair{Room: "A"}

	tests := []struct {
		name  string
		prev  Pair
		state conn.State
		next  Pair
		want  Action
	}{
		{"nothing to nothing", none, conn.Idle, none, Noop},
		{"missing room", none, conn.Idle, aliceNoRoom, Noop},
		{"missing identity", none, conn.Idle, roomNoUser, Noop},
		{"first start", none, conn.Idle, aliceA, Start},
		{"same pair connecting", aliceA, conn.Connecting, aliceA, Noop},
		{"same pair connected", aliceA, conn.Connected, aliceA, Noop},
		{"same pair retrying", aliceA, conn.Disconnected, aliceA, Noop},
		{"same pair failed", aliceA, conn.Failed, aliceA, Noop},
		{"same pair idle", aliceA, conn.Idle, aliceA, Start},
		{"room change connected", aliceA, conn.Connected, aliceB, Restart},
		{"room change connecting", aliceA, conn.Connecting, aliceB, Restart},
		{"room change failed", aliceA, conn.Failed, aliceB, Restart},
		{"room change idle", aliceA, conn.Idle, aliceB, Start},
		{"identity change", aliceA, conn.Connected, bobA, Restart},
		{"room cleared", aliceA, conn.Connected, aliceNoRoom, Teardown},
		{"identity cleared", aliceA, conn.Disconnected, roomNoUser, Teardown},
		{"cleared while idle", aliceA, conn.Idle, none, Noop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reconcile(tt.prev, tt.state, tt.next); got != tt.want {
				t.Errorf("Reconcile(%v, %s, %v) = %s, want %s", tt.prev.Room, tt.state, tt.next.Room, got, tt.want)
			}
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	p := Pair{Identity: auth.Identity{Provider: "dev", ProviderSubjectID: "alice"}, Room: "A"}
	for _, s := range []conn.State{conn.Connecting, conn.Connected, conn.Disconnected, conn.Failed} {
		for i := 0; i < 3; i++ {
			if got := Reconcile(p, s, p); got != Noop {
				t.Fatalf("re-evaluating in %s returned %s", s, got)
			}
		}
	}
}
