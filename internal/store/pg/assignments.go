package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brewline.io/internal/rbac"
)

const assignmentColumns = `id, user_id, role_id, organization_id, location_ids, valid_from, valid_until,
	assigned_by, assigned_at, revoked_at, revoked_by`

type assignmentTable struct{ db *sql.DB }

func scanAssignment(row rowScanner) (rbac.UserRole, error) {
	var (
		a                 rbac.UserRole
		rawLoc            []byte
		from, until, revd sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.OrganizationID, &rawLoc, &from, &until,
		&a.AssignedBy, &a.AssignedAt, &revd, &a.RevokedBy); err != nil {
		return rbac.UserRole{}, err
	}
	a.LocationIDs = []string{}
	if len(rawLoc) > 0 {
		if err := json.Unmarshal(rawLoc, &a.LocationIDs); err != nil {
			return rbac.UserRole{}, fmt.Errorf("decode location ids: %w", err)
		}
	}
	a.ValidFrom = timePtr(from)
	a.ValidUntil = timePtr(until)
	a.RevokedAt = timePtr(revd)
	a.AssignedAt = a.AssignedAt.UTC()
	return a, nil
}

func (t assignmentTable) Insert(ctx context.Context, a rbac.UserRole) error {
	locations, err := json.Marshal(append([]string{}, a.LocationIDs...))
	if err != nil {
		return fmt.Errorf("encode location ids: %w", err)
	}
	return inTx(ctx, t.db, func(tx *sql.Tx) error {
		var org string
		err := tx.QueryRowContext(ctx, `select organization_id from rbac_roles where id = $1 for share`, a.RoleID).Scan(&org)
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingRole(a.RoleID)
		}
		if err != nil {
			return err
		}
		if org != a.OrganizationID {
			return rbac.ForeignRole(a.RoleID, a.OrganizationID)
		}
		_, err = tx.ExecContext(ctx, `
			insert into rbac_user_roles (`+assignmentColumns+`)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, null, '')
		`, a.ID, a.UserID, a.RoleID, a.OrganizationID, string(locations), nullTime(a.ValidFrom), nullTime(a.ValidUntil), a.AssignedBy, a.AssignedAt)
		if isCode(err, pgErrUniqueViolation) {
			return rbac.DuplicateAssignment(a.UserID, a.RoleID, a.OrganizationID)
		}
		return err
	})
}

func (t assignmentTable) Get(ctx context.Context, id string) (rbac.UserRole, error) {
	a, err := scanAssignment(t.db.QueryRowContext(ctx, `select `+assignmentColumns+` from rbac_user_roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.UserRole{}, rbac.MissingAssignment(id)
	}
	if err != nil {
		return rbac.UserRole{}, err
	}
	return a, nil
}

func (t assignmentTable) List(ctx context.Context, f rbac.AssignmentFilter) ([]rbac.UserRole, error) {
	var q queryBuilder
	if !f.IncludeRevoked {
		q.where = append(q.where, "revoked_at is null")
	}
	if f.UserID != "" {
		q.add("user_id = %s", f.UserID)
	}
	if f.RoleID != "" {
		q.add("role_id = %s", f.RoleID)
	}
	if f.OrganizationID != "" {
		q.add("organization_id = %s", f.OrganizationID)
	}
	if f.LocationID != "" {
		q.add("location_ids @> jsonb_build_array(%s::text)", f.LocationID)
	}

	rows, err := t.db.QueryContext(ctx, `select `+assignmentColumns+` from rbac_user_roles`+q.clause()+` order by id`, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rbac.UserRole{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t assignmentTable) Revoke(ctx context.Context, id, revokedBy string, now time.Time) (rbac.UserRole, error) {
	var a rbac.UserRole
	err := inTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		a, err = scanAssignment(tx.QueryRowContext(ctx, `select `+assignmentColumns+` from rbac_user_roles where id = $1 for update`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingAssignment(id)
		}
		if err != nil {
			return err
		}
		if !a.Active() {
			return rbac.AlreadyRevoked(id)
		}
		if _, err := tx.ExecContext(ctx, `
			update rbac_user_roles set revoked_at = $2, revoked_by = $3 where id = $1
		`, id, now, revokedBy); err != nil {
			return err
		}
		a.RevokedAt = &now
		a.RevokedBy = revokedBy
		return nil
	})
	if err != nil {
		return rbac.UserRole{}, err
	}
	return a, nil
}
