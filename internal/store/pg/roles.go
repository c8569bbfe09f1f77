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

// roleSelect loads a role with its permission ids in stored order.
const roleSelect = `
	select r.id, r.organization_id, r.name, r.code, r.description, r.color, r.icon,
	       r.is_system, r.system_role, r.created_at, r.updated_at,
	       coalesce((select json_agg(rp.permission_id order by rp.position)
	                 from rbac_role_permissions rp where rp.role_id = r.id), '[]')
	from rbac_roles r`

var roleOrder = map[string]string{
	"name":       "lower(r.name)",
	"code":       "r.code",
	"created_at": "r.created_at",
	"updated_at": "r.updated_at",
}

type roleTable struct{ db *sql.DB }

func scanRole(row rowScanner) (rbac.Role, error) {
	var (
		r       rbac.Role
		rawPerm []byte
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Code, &r.Description, &r.Color, &r.Icon,
		&r.IsSystem, &r.SystemRole, &r.CreatedAt, &r.UpdatedAt, &rawPerm); err != nil {
		return rbac.Role{}, err
	}
	r.PermissionIDs = []string{}
	if len(rawPerm) > 0 {
		if err := json.Unmarshal(rawPerm, &r.PermissionIDs); err != nil {
			return rbac.Role{}, fmt.Errorf("decode permission ids: %w", err)
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// checkPermissions locks each referenced permission for the rest of tx so a
// concurrent delete cannot slip between the check and the link insert.
func checkPermissions(ctx context.Context, tx *sql.Tx, organizationID string, ids []string) error {
	for _, pid := range ids {
		var org string
		err := tx.QueryRowContext(ctx, `select organization_id from rbac_permissions where id = $1 for share`, pid).Scan(&org)
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingPermission(pid)
		}
		if err != nil {
			return err
		}
		if org != organizationID {
			return rbac.ForeignPermission(pid, organizationID)
		}
	}
	return nil
}

// codeTaken runs before checkPermissions so a code collision is reported ahead
// of a bad permission reference. The unique index still backs it up.
func codeTaken(ctx context.Context, tx *sql.Tx, organizationID, code, exceptID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		select 1 from rbac_roles where organization_id = $1 and code = $2 and id <> $3
	`, organizationID, code, exceptID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func linkPermissions(ctx context.Context, tx *sql.Tx, roleID string, ids []string) error {
	for i, pid := range ids {
		if _, err := tx.ExecContext(ctx, `
			insert into rbac_role_permissions (role_id, permission_id, position)
			values ($1, $2, $3)
		`, roleID, pid, i); err != nil {
			if isCode(err, pgErrForeignKeyViolation) {
				return rbac.MissingPermission(pid)
			}
			return err
		}
	}
	return nil
}

func (t roleTable) Insert(ctx context.Context, r rbac.Role) error {
	return inTx(ctx, t.db, func(tx *sql.Tx) error {
		taken, err := codeTaken(ctx, tx, r.OrganizationID, r.Code, r.ID)
		if err != nil {
			return err
		}
		if taken {
			return rbac.DuplicateCode(r.OrganizationID, r.Code)
		}
		if err := checkPermissions(ctx, tx, r.OrganizationID, r.PermissionIDs); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into rbac_roles (id, organization_id, name, code, description, color, icon, is_system, system_role, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, r.ID, r.OrganizationID, r.Name, r.Code, r.Description, r.Color, r.Icon, r.IsSystem, r.SystemRole, r.CreatedAt, r.UpdatedAt)
		if isCode(err, pgErrUniqueViolation) {
			return rbac.DuplicateCode(r.OrganizationID, r.Code)
		}
		if err != nil {
			return err
		}
		return linkPermissions(ctx, tx, r.ID, r.PermissionIDs)
	})
}

func (t roleTable) Get(ctx context.Context, id string) (rbac.Role, error) {
	r, err := scanRole(t.db.QueryRowContext(ctx, roleSelect+` where r.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.MissingRole(id)
	}
	if err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}

func (t roleTable) GetByCode(ctx context.Context, organizationID, code string) (rbac.Role, bool, error) {
	r, err := scanRole(t.db.QueryRowContext(ctx, roleSelect+` where r.organization_id = $1 and r.code = $2`, organizationID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, false, nil
	}
	if err != nil {
		return rbac.Role{}, false, err
	}
	return r, true, nil
}

func (t roleTable) List(ctx context.Context, f rbac.RoleFilter) ([]rbac.Role, error) {
	var q queryBuilder
	if f.OrganizationID != "" {
		q.add("r.organization_id = %s", f.OrganizationID)
	}
	if f.SystemRole != "" {
		q.add("r.system_role = %s", string(f.SystemRole))
	}
	q.search(f.Search, "r.name", "r.code", "r.description")

	order := orderBy(roleOrder, f.SortBy, f.Order)
	rows, err := t.db.QueryContext(ctx, roleSelect+q.clause()+order, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rbac.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t roleTable) Update(ctx context.Context, id string, upd rbac.RoleUpdate, now time.Time) (rbac.Role, error) {
	var r rbac.Role
	err := inTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		r, err = scanRole(tx.QueryRowContext(ctx, roleSelect+` where r.id = $1 for update of r`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingRole(id)
		}
		if err != nil {
			return err
		}
		if r.IsSystem {
			return rbac.SystemRoleImmutable(id)
		}
		upd.Apply(&r)
		r.UpdatedAt = now
		taken, err := codeTaken(ctx, tx, r.OrganizationID, r.Code, r.ID)
		if err != nil {
			return err
		}
		if taken {
			return rbac.DuplicateCode(r.OrganizationID, r.Code)
		}
		if upd.PermissionIDs != nil {
			if err := checkPermissions(ctx, tx, r.OrganizationID, r.PermissionIDs); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			update rbac_roles
			set name = $2, code = $3, description = $4, color = $5, icon = $6, updated_at = $7
			where id = $1
		`, r.ID, r.Name, r.Code, r.Description, r.Color, r.Icon, r.UpdatedAt)
		if isCode(err, pgErrUniqueViolation) {
			return rbac.DuplicateCode(r.OrganizationID, r.Code)
		}
		if err != nil {
			return err
		}
		if upd.PermissionIDs == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `delete from rbac_role_permissions where role_id = $1`, id); err != nil {
			return err
		}
		return linkPermissions(ctx, tx, id, r.PermissionIDs)
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}

func (t roleTable) Delete(ctx context.Context, id string) (rbac.Role, error) {
	var r rbac.Role
	err := inTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		r, err = scanRole(tx.QueryRowContext(ctx, roleSelect+` where r.id = $1 for update of r`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingRole(id)
		}
		if err != nil {
			return err
		}
		if r.IsSystem {
			return rbac.SystemRoleImmutable(id)
		}
		var active int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from rbac_user_roles where role_id = $1 and revoked_at is null
		`, id).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return &rbac.InUseError{Kind: "role", ID: id, Count: active, Referrer: "active assignment"}
		}
		_, err = tx.ExecContext(ctx, `delete from rbac_roles where id = $1`, id)
		return err
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}
