package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// PresenceChannel is the NOTIFY channel the profile trigger publishes on.
const PresenceChannel = "provider_presence"

var (
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrUnsupportedFilter = errors.New("unsupported filter")
)

var collectionRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ProfileRepo stores profile documents as JSONB rows, one table per
// collection, and answers collection queries with a single containment
// predicate.
type ProfileRepo struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// EnsureTable creates the collection table, its GIN index and the presence
// NOTIFY trigger (idempotent).
func (r *ProfileRepo) EnsureTable(ctx context.Context, collection string) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	fn := pq.QuoteIdentifier(collection + "_notify_presence")
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s USING GIN (data jsonb_path_ops);

CREATE OR REPLACE FUNCTION %[3]s() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    PERFORM pg_notify('%[4]s', json_build_object('id', OLD.id, 'removed', true)::text);
    RETURN OLD;
  END IF;
  IF OLD.data->'isOnline' IS DISTINCT FROM NEW.data->'isOnline'
     OR OLD.data->'availability' IS DISTINCT FROM NEW.data->'availability'
     OR OLD.data->'busyReason' IS DISTINCT FROM NEW.data->'busyReason'
     OR OLD.data->'isApproved' IS DISTINCT FROM NEW.data->'isApproved'
     OR OLD.data->'isVisible' IS DISTINCT FROM NEW.data->'isVisible'
     OR OLD.data->'isBanned' IS DISTINCT FROM NEW.data->'isBanned' THEN
    PERFORM pg_notify('%[4]s', json_build_object(
      'id', NEW.id,
      'isOnline', COALESCE((NEW.data->>'isOnline')::boolean, false),
      'availability', COALESCE(NEW.data->>'availability', ''),
      'busyReason', COALESCE(NEW.data->>'busyReason', ''),
      'removed', NOT (COALESCE((NEW.data->>'isApproved')::boolean, false)
                  AND COALESCE((NEW.data->>'isVisible')::boolean, true)
                  AND NOT COALESCE((NEW.data->>'isBanned')::boolean, false))
    )::text);
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS %[5]s ON %[1]s;
CREATE TRIGGER %[5]s AFTER UPDATE OR DELETE ON %[1]s
  FOR EACH ROW EXECUTE FUNCTION %[3]s();
`, table, pq.QuoteIdentifier("idx_"+collection+"_data"), fn, PresenceChannel, pq.QuoteIdentifier(collection+"_presence"))
	_, err = r.db.ExecContext(ctx, ddl)
	return err
}

// Upsert inserts or replaces one document.
func (r *ProfileRepo) Upsert(ctx context.Context, collection string, rec entity.Record) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record id required")
	}
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2::jsonb)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, table)
	_, err = r.db.ExecContext(ctx, q, rec.ID, string(raw))
	return err
}

type profileRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

// Query returns the documents matching every filter of q. Rows whose data
// cannot be decoded are skipped.
func (r *ProfileRepo) Query(ctx context.Context, q entity.Query) ([]entity.Record, error) {
	table, err := tableName(q.Collection)
	if err != nil {
		return nil, err
	}
	cond, err := buildContainment(q.Filters)
	if err != nil {
		return nil, err
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	stmt := fmt.Sprintf(`SELECT id, data FROM %s WHERE data @> $1::jsonb ORDER BY id LIMIT $2`, table)
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, stmt, cond, limit); err != nil {
		return nil, err
	}
	out := make([]entity.Record, 0, len(rows))
	for _, row := range rows {
		var data map[string]any
		if err := json.Unmarshal(row.Data, &data); err != nil || data == nil {
			continue
		}
		out = append(out, entity.Record{ID: row.ID, Data: data})
	}
	return out, nil
}

// buildContainment compiles filters into one JSONB document so that
// `data @> doc` holds exactly when every filter does.
func buildContainment(filters []entity.Filter) (string, error) {
	doc := make(map[string]any, len(filters))
	for _, f := range filters {
		if f.Field == "" {
			return "", fmt.Errorf("%w: empty field", ErrUnsupportedFilter)
		}
		switch f.Op {
		case entity.OpEqual:
			doc[f.Field] = f.Value
		case entity.OpArrayContains:
			prev, _ := doc[f.Field].([]any)
			doc[f.Field] = append(prev, f.Value)
		default:
			return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedFilter, f.Op, f.Field)
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal filters: %w", err)
	}
	return string(raw), nil
}

func tableName(collection string) (string, error) {
	if !collectionRe.MatchString(collection) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	return pq.QuoteIdentifier(collection), nil
}
