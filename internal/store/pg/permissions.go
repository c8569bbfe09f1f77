package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brewline.io/internal/rbac"
)

const permissionColumns = `id, organization_id, resource, action, effect, name, description, created_at, updated_at`

var permissionOrder = map[string]string{
	"name":       "lower(name)",
	"resource":   "resource",
	"action":     "action",
	"effect":     "effect",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type permissionTable struct{ db *sql.DB }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Resource, &p.Action, &p.Effect, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (t permissionTable) Insert(ctx context.Context, p rbac.Permission) error {
	_, err := t.db.ExecContext(ctx, `
		insert into rbac_permissions (`+permissionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.OrganizationID, p.Resource, p.Action, p.Effect, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if isCode(err, pgErrUniqueViolation) {
		return fmt.Errorf("%w: permission %s already exists", rbac.ErrConflict, p.ID)
	}
	return err
}

func (t permissionTable) Get(ctx context.Context, id string) (rbac.Permission, error) {
	p, err := scanPermission(t.db.QueryRowContext(ctx, `select `+permissionColumns+` from rbac_permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, rbac.MissingPermission(id)
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	return p, nil
}

func (t permissionTable) List(ctx context.Context, f rbac.PermissionFilter) ([]rbac.Permission, error) {
	var q queryBuilder
	if f.OrganizationID != "" {
		q.add("organization_id = %s", f.OrganizationID)
	}
	if f.Resource != "" {
		q.add("resource = %s", string(f.Resource))
	}
	if f.Action != "" {
		q.add("action = %s", string(f.Action))
	}
	q.search(f.Search, "name", "description")

	rows, err := t.db.QueryContext(ctx, `select `+permissionColumns+` from rbac_permissions`+q.clause()+orderBy(permissionOrder, f.SortBy, f.Order), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rbac.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t permissionTable) Update(ctx context.Context, id string, upd rbac.PermissionUpdate, now time.Time) (rbac.Permission, error) {
	var p rbac.Permission
	err := inTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		p, err = scanPermission(tx.QueryRowContext(ctx, `select `+permissionColumns+` from rbac_permissions where id = $1 for update`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingPermission(id)
		}
		if err != nil {
			return err
		}
		upd.Apply(&p)
		p.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			update rbac_permissions
			set resource = $2, action = $3, effect = $4, name = $5, description = $6, updated_at = $7
			where id = $1
		`, p.ID, p.Resource, p.Action, p.Effect, p.Name, p.Description, p.UpdatedAt)
		return err
	})
	if err != nil {
		return rbac.Permission{}, err
	}
	return p, nil
}

func (t permissionTable) Delete(ctx context.Context, id string) (rbac.Permission, error) {
	var p rbac.Permission
	err := inTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		p, err = scanPermission(tx.QueryRowContext(ctx, `select `+permissionColumns+` from rbac_permissions where id = $1 for update`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.MissingPermission(id)
		}
		if err != nil {
			return err
		}
		var refs int
		if err := tx.QueryRowContext(ctx, `select count(*) from rbac_role_permissions where permission_id = $1`, id).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return &rbac.InUseError{Kind: "permission", ID: id, Count: refs, Referrer: "role"}
		}
		_, err = tx.ExecContext(ctx, `delete from rbac_permissions where id = $1`, id)
		if isCode(err, pgErrForeignKeyViolation) {
			return &rbac.InUseError{Kind: "permission", ID: id, Count: 1, Referrer: "role"}
		}
		return err
	})
	if err != nil {
		return rbac.Permission{}, err
	}
	return p, nil
}
