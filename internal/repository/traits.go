package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/jmoiron/sqlx"
)

// TraitsRepository persists platform identities and their attributes.
type TraitsRepository interface {
	ApplyTraits(ctx context.Context, kind model.EntityKind, ident model.Identity, attrs map[string]model.Attribute) error
	GetTraits(ctx context.Context, kind model.EntityKind, key string) (map[string]json.RawMessage, error)
}

type TraitsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTraitsRepository(db *sqlx.DB) *TraitsRepositoryImpl {
	return &TraitsRepositoryImpl{db: db}
}

var _ TraitsRepository = (*TraitsRepositoryImpl)(nil)

// ApplyTraits upserts the identity row then every attribute in one
// transaction. setIfNull attributes only fill missing or null values.
func (r *TraitsRepositoryImpl) ApplyTraits(ctx context.Context, kind model.EntityKind, ident model.Identity, attrs map[string]model.Attribute) error {
	key := ident.Key()
	if key == "" {
		return fmt.Errorf("apply traits: identity has no usable claim")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const qIdent = `
		INSERT INTO platform_identities
		    (kind, identity_key, internal_id, email, domain, external_id, anonymous_id, updated_at)
		VALUES
		    (?,    ?,            ?,           ?,     ?,      ?,           ?,            NOW())
		ON DUPLICATE KEY UPDATE
		    internal_id  = IF(VALUES(internal_id)  = '', internal_id,  VALUES(internal_id)),
		    email        = IF(VALUES(email)        = '', email,        VALUES(email)),
		    domain       = IF(VALUES(domain)       = '', domain,       VALUES(domain)),
		    external_id  = IF(VALUES(external_id)  = '', external_id,  VALUES(external_id)),
		    anonymous_id = IF(VALUES(anonymous_id) = '', anonymous_id, VALUES(anonymous_id)),
		    updated_at   = NOW()
	`
	if _, err := tx.ExecContext(ctx, qIdent,
		kind.String(), key, ident.ID, ident.Email, ident.Domain, ident.ExternalID, ident.AnonymousID,
	); err != nil {
		return fmt.Errorf("upsert identity %s: %w", key, err)
	}

	set, setIfNull := splitByPolicy(attrs)
	if err := r.insertBatch(ctx, tx, kind, key, set,
		`value = VALUES(value)`); err != nil {
		return fmt.Errorf("set traits %s: %w", key, err)
	}
	if err := r.insertBatch(ctx, tx, kind, key, setIfNull,
		`value = IF(JSON_TYPE(value) = 'NULL', VALUES(value), value)`); err != nil {
		return fmt.Errorf("setIfNull traits %s: %w", key, err)
	}

	return tx.Commit()
}

type traitRow struct {
	name  string
	value []byte
}

func splitByPolicy(attrs map[string]model.Attribute) (set, setIfNull []traitRow) {
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		a := attrs[n]
		b, err := json.Marshal(a.Value)
		if err != nil {
			b = []byte("null")
		}
		row := traitRow{name: n, value: b}
		if a.Policy == model.PolicySetIfNull {
			setIfNull = append(setIfNull, row)
		} else {
			set = append(set, row)
		}
	}
	return set, setIfNull
}

func (r *TraitsRepositoryImpl) insertBatch(ctx context.Context, tx *sqlx.Tx, kind model.EntityKind, key string, rows []traitRow, onDup string) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*4)

	sb.WriteString(`INSERT INTO platform_traits (kind, identity_key, name, value, updated_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, CAST(? AS JSON), NOW())")
		args = append(args, kind.String(), key, rw.name, string(rw.value))
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE ` + onDup + `, updated_at = NOW()`)

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// GetTraits returns the raw JSON attributes stored for an identity key.
func (r *TraitsRepositoryImpl) GetTraits(ctx context.Context, kind model.EntityKind, key string) (map[string]json.RawMessage, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value []byte `db:"value"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT name, value
		  FROM platform_traits
		 WHERE kind = ? AND identity_key = ?
	`, kind.String(), key); err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(rows))
	for _, rw := range rows {
		out[rw.Name] = json.RawMessage(rw.Value)
	}
	return out, nil
}
