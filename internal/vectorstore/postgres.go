package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct {
	pool      *pgxpool.Pool
	dimension int
	metric    string // cosine|l2|ip
}

// NewPostgres creates a pgvector-backed Store. Each collection maps to its
// own table; the payload is stored as JSONB next to the vector column.
func NewPostgres(ctx context.Context, dsn string, dimension int, metric string) (Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector requires dimensions > 0")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure vector extension: %w", err)
	}
	return &pgStore{
		pool:      pool,
		dimension: dimension,
		metric:    strings.ToLower(strings.TrimSpace(metric)),
	}, nil
}

func (p *pgStore) tableName(collection string) (string, error) {
	for _, r := range collection {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return "", fmt.Errorf("invalid collection name %q", collection)
		}
	}
	return "ctx_" + collection, nil
}

func (p *pgStore) CreateCollection(ctx context.Context, name string) error {
	table, err := p.tableName(name)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  vec vector(%d),
  payload JSONB NOT NULL DEFAULT '{}'::jsonb
)`, table, p.dimension))
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (p *pgStore) DeleteCollection(ctx context.Context, name string) error {
	table, err := p.tableName(name)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

func (p *pgStore) InsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	table, err := p.tableName(collection)
	if err != nil {
		return err
	}
	for _, pt := range points {
		payload, err := json.Marshal(flattenPayload(pt.Payload))
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		_, err = p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s(id, vec, payload) VALUES($1, $2::vector, $3)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, payload=EXCLUDED.payload`, table),
			pt.ID, toVectorLiteral(pt.Vector), payload)
		if err != nil {
			return fmt.Errorf("upsert point: %w", err)
		}
	}
	return nil
}

func (p *pgStore) Search(ctx context.Context, collection string, params SearchParams) ([]SearchResult, error) {
	table, err := p.tableName(collection)
	if err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	op := "<=>" // cosine distance
	scoreExpr := "1 - (vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		scoreExpr = "-(vec <-> $1::vector)" // higher is better (less distance)
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(vec <#> $1::vector)" // maximize inner product
	}
	args := []any{toVectorLiteral(params.Vector), limit}
	where, args := buildWhere(params.Filter, args)
	query := fmt.Sprintf(`SELECT id, %s AS score, payload FROM %s %s ORDER BY vec %s $1::vector LIMIT $2`,
		scoreExpr, table, where, op)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SearchResult, 0, limit)
	for rows.Next() {
		var (
			id    uuid.UUID
			score float64
			raw   []byte
		)
		if err := rows.Scan(&id, &score, &raw); err != nil {
			return nil, err
		}
		r := SearchResult{ID: id, Score: float32(score)}
		if params.ScoreThreshold != nil && r.Score < *params.ScoreThreshold {
			continue
		}
		if params.WithPayload {
			payload, err := payloadFromJSON(raw)
			if err != nil {
				return nil, err
			}
			r.Payload = &payload
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *pgStore) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	table, err := p.tableName(collection)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table), ids)
	return err
}

func (p *pgStore) GetPoint(ctx context.Context, collection string, id uuid.UUID) (*Point, error) {
	table, err := p.tableName(collection)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT vec::text, payload FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		vecText string
		raw     []byte
	)
	if err := rows.Scan(&vecText, &raw); err != nil {
		return nil, err
	}
	payload, err := payloadFromJSON(raw)
	if err != nil {
		return nil, err
	}
	vec, err := fromVectorLiteral(vecText)
	if err != nil {
		return nil, err
	}
	return &Point{ID: id, Vector: vec, Payload: payload}, nil
}

func (p *pgStore) Close() error {
	p.pool.Close()
	return nil
}

// buildWhere renders a Filter as a JSONB where clause, appending bind args.
func buildWhere(f *Filter, args []any) (string, []any) {
	if f == nil {
		return "", args
	}
	var clauses []string
	for _, c := range f.Must {
		var sql string
		sql, args = conditionSQL(c, args)
		if sql != "" {
			clauses = append(clauses, sql)
		}
	}
	for _, c := range f.MustNot {
		var sql string
		sql, args = conditionSQL(c, args)
		if sql != "" {
			clauses = append(clauses, "NOT ("+sql+")")
		}
	}
	if len(f.Should) > 0 {
		var alts []string
		for _, c := range f.Should {
			var sql string
			sql, args = conditionSQL(c, args)
			if sql != "" {
				alts = append(alts, sql)
			}
		}
		if len(alts) > 0 {
			clauses = append(clauses, "("+strings.Join(alts, " OR ")+")")
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func conditionSQL(c Condition, args []any) (string, []any) {
	switch {
	case c.Match != nil:
		if n, ok := asFloat(c.Match.Value); ok {
			args = append(args, n)
			return fmt.Sprintf("(payload->>'%s')::float8 = $%d", c.Match.Key, len(args)), args
		}
		args = append(args, fmt.Sprintf("%v", c.Match.Value))
		return fmt.Sprintf("payload->>'%s' = $%d", c.Match.Key, len(args)), args
	case c.Range != nil:
		var parts []string
		if c.Range.Gte != nil {
			args = append(args, *c.Range.Gte)
			parts = append(parts, fmt.Sprintf("(payload->>'%s')::float8 >= $%d", c.Range.Key, len(args)))
		}
		if c.Range.Lte != nil {
			args = append(args, *c.Range.Lte)
			parts = append(parts, fmt.Sprintf("(payload->>'%s')::float8 <= $%d", c.Range.Key, len(args)))
		}
		if len(parts) == 0 {
			return "", args
		}
		return strings.Join(parts, " AND "), args
	case len(c.HasID) > 0:
		args = append(args, c.HasID)
		return fmt.Sprintf("id = ANY($%d)", len(args)), args
	default:
		return "", args
	}
}

func payloadFromJSON(raw []byte) (Payload, error) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Payload{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	p := Payload{Metadata: make(map[string]any)}
	for k, v := range flat {
		switch k {
		case "text":
			p.Text, _ = v.(string)
		case "level":
			if s, ok := v.(string); ok {
				p.Tier = Tier(s)
			}
		case "timestamp":
			if n, ok := asFloat(v); ok {
				p.Timestamp = int64(n)
			}
		case "agent_id":
			p.AgentID, _ = v.(string)
		case "session_id":
			p.SessionID, _ = v.(string)
		default:
			p.Metadata[k] = v
		}
	}
	return p, nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		// Use %g to avoid trailing zeros; Postgres accepts decimal
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}

func fromVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector literal: %w", err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}
