package state

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MembershipsTable stores which users belong to which groups. Group membership
// is written by the application's admin surface; the gateway only reads it to
// decide room joins and group fan-out targets.
type MembershipsTable struct {
	db *sqlx.DB
}

func NewMembershipsTable(db *sqlx.DB) *MembershipsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS gateway_group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		UNIQUE(group_id, user_id)
	);
	`)
	return &MembershipsTable{db}
}

// GroupsForUser returns the IDs of every group the user belongs to.
func (t *MembershipsTable) GroupsForUser(ctx context.Context, userID string) (groupIDs []string, err error) {
	err = t.db.SelectContext(ctx, &groupIDs,
		`SELECT group_id FROM gateway_group_members WHERE user_id=$1`, userID,
	)
	return
}

// GroupMembers returns the IDs of every user in the group.
func (t *MembershipsTable) GroupMembers(ctx context.Context, groupID string) (userIDs []string, err error) {
	err = t.db.SelectContext(ctx, &userIDs,
		`SELECT user_id FROM gateway_group_members WHERE group_id=$1`, groupID,
	)
	return
}

func (t *MembershipsTable) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		`SELECT count(*) FROM gateway_group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID,
	).Scan(&count)
	return count > 0, err
}

// AddGroupMember inserts a membership row. The admin surface normally owns
// writes; this exists for tests and for bootstrapping local setups.
func (t *MembershipsTable) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO gateway_group_members(group_id, user_id) VALUES($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	return err
}
