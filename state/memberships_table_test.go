package state

import (
	"context"
	"sort"
	"testing"
)

func TestMembershipsTable(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	table := NewMembershipsTable(db)
	ctx := context.Background()

	memberships := map[string][]string{
		"team-red":  {"alice", "bob"},
		"team-blue": {"bob", "charlie"},
	}
	for groupID, userIDs := range memberships {
		for _, userID := range userIDs {
			if err := table.AddGroupMember(ctx, groupID, userID); err != nil {
				t.Fatalf("AddGroupMember: %s", err)
			}
		}
	}
	// duplicate insert is a no-op
	if err := table.AddGroupMember(ctx, "team-red", "alice"); err != nil {
		t.Fatalf("AddGroupMember duplicate: %s", err)
	}

	groupIDs, err := table.GroupsForUser(ctx, "bob")
	if err != nil {
		t.Fatalf("GroupsForUser: %s", err)
	}
	sort.Strings(groupIDs)
	assertStrings(t, "GroupsForUser(bob)", groupIDs, []string{"team-blue", "team-red"})

	groupIDs, err = table.GroupsForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("GroupsForUser: %s", err)
	}
	if len(groupIDs) != 0 {
		t.Fatalf("GroupsForUser(nobody): got %v want none", groupIDs)
	}

	userIDs, err := table.GroupMembers(ctx, "team-red")
	if err != nil {
		t.Fatalf("GroupMembers: %s", err)
	}
	sort.Strings(userIDs)
	assertStrings(t, "GroupMembers(team-red)", userIDs, []string{"alice", "bob"})

	isMember, err := table.IsGroupMember(ctx, "team-red", "alice")
	if err != nil {
		t.Fatalf("IsGroupMember: %s", err)
	}
	if !isMember {
		t.Fatalf("IsGroupMember(team-red, alice): got false want true")
	}
	isMember, err = table.IsGroupMember(ctx, "team-red", "charlie")
	if err != nil {
		t.Fatalf("IsGroupMember: %s", err)
	}
	if isMember {
		t.Fatalf("IsGroupMember(team-red, charlie): got true want false")
	}
}

func assertStrings(t *testing.T, desc string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v want %v", desc, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got %v want %v", desc, got, want)
		}
	}
}
