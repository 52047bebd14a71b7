package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Zakes-Matsimbe/nkateko/internal/model"
)

// Kind selects which identity table a login attempt is resolved against.
type Kind string

const (
	KindAdmin   Kind = "admin"
	KindStaff   Kind = "staff"
	KindLearner Kind = "learner"
)

// RoleUnknown is returned when an identity references a role id that has
// no row in the roles table. Login still succeeds with this role; every
// role gate then rejects the principal.
const RoleUnknown = "Unknown"

var ErrUnrecognizedIdentifier = errors.New("unrecognized identifier prefix")

// kindSpec maps the logical identity fields onto the column names of one
// identity table. roleIsCanonical marks the staff table, whose role
// column already holds the canonical role string.
type kindSpec struct {
	table           string
	numberColumn    string
	nameColumn      string
	passwordColumn  string
	roleColumn      string
	roleIsCanonical bool
}

var kindSpecs = map[Kind]kindSpec{
	KindAdmin: {
		table:          "admins",
		numberColumn:   "admin_number",
		nameColumn:     "name",
		passwordColumn: "password_hash",
		roleColumn:     "role_id",
	},
	KindStaff: {
		table:           "staff",
		numberColumn:    "staff_number",
		nameColumn:      "names",
		passwordColumn:  "password",
		roleColumn:      "role",
		roleIsCanonical: true,
	},
	KindLearner: {
		table:          "users",
		numberColumn:   "bokamoso_number",
		nameColumn:     "full_names",
		passwordColumn: "password_hash",
		roleColumn:     "role_id",
	},
}

var kindByPrefix = map[string]Kind{
	"ADM": KindAdmin,
	"BET": KindStaff,
	"BOK": KindLearner,
}

// ClassifyIdentifier inspects the uppercased prefix of a trimmed
// identifier and picks exactly one identity kind.
func ClassifyIdentifier(identifier string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(identifier))
	if len(upper) >= 3 {
		if kind, ok := kindByPrefix[upper[:3]]; ok {
			return kind, nil
		}
	}
	return "", ErrUnrecognizedIdentifier
}

// GetIdentity fetches at most one row from the kind's identity table,
// matching the identifier against the kind's reference number column or
// the email column, and normalizes it into an IdentityRecord.
// pgx.ErrNoRows means no matching identity exists.
func (s *Store) GetIdentity(ctx context.Context, kind Kind, identifier string) (model.IdentityRecord, error) {
	var record model.IdentityRecord
	spec, ok := kindSpecs[kind]
	if !ok {
		return record, fmt.Errorf("unknown identity kind %q", kind)
	}

	// Column and table names come from the closed kindSpecs table, never
	// from the request.
	query := fmt.Sprintf(`
		SELECT id, %s, %s, %s
		FROM %s
		WHERE %s = $1 OR email = $1
	`, spec.nameColumn, spec.passwordColumn, spec.roleColumn, spec.table, spec.numberColumn)

	row := s.pool.QueryRow(ctx, query, identifier)
	if spec.roleIsCanonical {
		err := row.Scan(&record.ID, &record.Name, &record.Hash, &record.Role)
		return record, err
	}
	err := row.Scan(&record.ID, &record.Name, &record.Hash, &record.RoleID)
	return record, err
}

// ResolveRole turns an identity's role reference into a canonical role
// string. Staff roles pass through; admin and learner role ids are looked
// up in the roles table, degrading to RoleUnknown when absent.
func (s *Store) ResolveRole(ctx context.Context, kind Kind, record model.IdentityRecord) (string, error) {
	if kindSpecs[kind].roleIsCanonical {
		return record.Role, nil
	}

	var name string
	row := s.pool.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, record.RoleID)
	err := row.Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleUnknown, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
