// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface.
// Nested cog metadata is kept as a JSONB document next to the indexed filter columns.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// postgres provides persistent storage for satellites, products, cogs and users.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS satellites (
		    id TEXT PRIMARY KEY,
		    satellite_id TEXT NOT NULL UNIQUE,            -- External short code
		    name TEXT NOT NULL,
		    manufacturer TEXT NOT NULL DEFAULT '',
		    orbit TEXT NOT NULL DEFAULT '',
		    products TEXT[] NOT NULL DEFAULT '{}',
		    cogs TEXT[] NOT NULL DEFAULT '{}',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS products (
		    id TEXT PRIMARY KEY,
		    product_id TEXT NOT NULL,                     -- Product code
		    satellite_id TEXT NOT NULL,
		    processing_level TEXT NOT NULL,
		    is_visible BOOLEAN NOT NULL DEFAULT TRUE,
		    product_display_name TEXT NOT NULL DEFAULT '',
		    cogs TEXT[] NOT NULL DEFAULT '{}',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    UNIQUE(product_id, satellite_id, processing_level)
		);

		CREATE INDEX IF NOT EXISTS idx_products_satellite_visible ON products(satellite_id, is_visible);

		CREATE TABLE IF NOT EXISTS cogs (
		    id TEXT PRIMARY KEY,
		    satellite_id TEXT NOT NULL,
		    product TEXT NOT NULL DEFAULT '',             -- Product store id
		    product_code TEXT NOT NULL,
		    processing_level TEXT NOT NULL,
		    type TEXT NOT NULL,
		    aquisition_datetime BIGINT NOT NULL,          -- Epoch millis
		    doc JSONB NOT NULL,                           -- Full record
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_cogs_satellite_time ON cogs(satellite_id, aquisition_datetime DESC);
		CREATE INDEX IF NOT EXISTS idx_cogs_product ON cogs(product);
		CREATE INDEX IF NOT EXISTS idx_cogs_time ON cogs(aquisition_datetime);

		CREATE TABLE IF NOT EXISTS users (
		    id TEXT PRIMARY KEY,
		    email TEXT NOT NULL,
		    password_hash TEXT NOT NULL,
		    first_name TEXT NOT NULL DEFAULT '',
		    last_name TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(lower(email));
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const satelliteColumns = `id, satellite_id, name, manufacturer, orbit, products, cogs, created_at, updated_at`

func scanSatellite(row pgx.Row) (*model.Satellite, error) {
	var s model.Satellite
	err := row.Scan(&s.ID, &s.SatelliteID, &s.Name, &s.Manufacturer, &s.Orbit, &s.Products, &s.Cogs, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *postgres) CreateSatellite(ctx context.Context, sat model.Satellite) (*model.Satellite, error) {
	if sat.ID == "" {
		sat.ID = NewID()
	}
	now := time.Now().UTC()
	query := `INSERT INTO satellites (id, satellite_id, name, manufacturer, orbit, products, cogs, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	          RETURNING ` + satelliteColumns
	s, err := scanSatellite(p.db.QueryRow(ctx, query,
		sat.ID, sat.SatelliteID, sat.Name, sat.Manufacturer, sat.Orbit,
		appendMissing(nil, sat.Products), appendMissing(nil, sat.Cogs), now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create satellite: %w", err)
	}
	return s, nil
}

func (p *postgres) GetSatellite(ctx context.Context, satelliteID string) (*model.Satellite, error) {
	s, err := scanSatellite(p.db.QueryRow(ctx, `SELECT `+satelliteColumns+` FROM satellites WHERE satellite_id = $1`, satelliteID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get satellite: %w", err)
	}
	return s, err
}

func (p *postgres) ListSatellites(ctx context.Context) ([]model.Satellite, error) {
	rows, err := p.db.Query(ctx, `SELECT `+satelliteColumns+` FROM satellites ORDER BY satellite_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list satellites: %w", err)
	}
	defer rows.Close()

	out := make([]model.Satellite, 0)
	for rows.Next() {
		s, err := scanSatellite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan satellite: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *postgres) UpdateSatellite(ctx context.Context, satelliteID string, upd SatelliteUpdate) (*model.Satellite, error) {
	query := `UPDATE satellites SET
	              name = COALESCE($2, name),
	              manufacturer = COALESCE($3, manufacturer),
	              orbit = COALESCE($4, orbit),
	              updated_at = $5
	          WHERE satellite_id = $1
	          RETURNING ` + satelliteColumns
	s, err := scanSatellite(p.db.QueryRow(ctx, query, satelliteID, upd.Name, upd.Manufacturer, upd.Orbit, time.Now().UTC()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to update satellite: %w", err)
	}
	return s, err
}

func (p *postgres) DeleteSatellite(ctx context.Context, satelliteID string) error {
	result, err := p.db.Exec(ctx, `DELETE FROM satellites WHERE satellite_id = $1`, satelliteID)
	if err != nil {
		return fmt.Errorf("failed to delete satellite: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// addToSetSQL appends every element of the array parameter not already present in col.
func addToSetSQL(col, param string) string {
	return fmt.Sprintf("%[1]s || ARRAY(SELECT DISTINCT v FROM unnest(%[2]s::text[]) v WHERE v <> ALL(%[1]s))", col, param)
}

func (p *postgres) AddSatelliteRefs(ctx context.Context, satelliteID string, productIDs, cogIDs []string) error {
	query := `UPDATE satellites SET
	              products = ` + addToSetSQL("products", "$2") + `,
	              cogs = ` + addToSetSQL("cogs", "$3") + `,
	              updated_at = $4
	          WHERE satellite_id = $1`
	result, err := p.db.Exec(ctx, query, satelliteID, nonNil(productIDs), nonNil(cogIDs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update satellite refs: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const productColumns = `id, product_id, satellite_id, processing_level, is_visible, product_display_name, cogs, created_at, updated_at`

func scanProduct(row pgx.Row, extra ...any) (*model.Product, error) {
	var pr model.Product
	dest := []any{&pr.ID, &pr.ProductID, &pr.SatelliteID, &pr.ProcessingLevel, &pr.IsVisible,
		&pr.ProductDisplayName, &pr.Cogs, &pr.CreatedAt, &pr.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pr, nil
}

func (p *postgres) FindOrCreateProduct(ctx context.Context, key model.ProductKey, displayName string) (*model.Product, bool, error) {
	// xmax is zero only for a row written by this statement's insert branch
	query := `INSERT INTO products (id, product_id, satellite_id, processing_level, is_visible, product_display_name, cogs, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, TRUE, $5, '{}', $6, $6)
	          ON CONFLICT (product_id, satellite_id, processing_level) DO UPDATE SET
	              product_display_name = CASE
	                  WHEN products.product_display_name = '' THEN EXCLUDED.product_display_name
	                  ELSE products.product_display_name END
	          RETURNING ` + productColumns + `, (xmax = 0) AS inserted`
	var inserted bool
	pr, err := scanProduct(p.db.QueryRow(ctx, query,
		NewID(), key.ProductID, key.SatelliteID, key.ProcessingLevel, displayName, time.Now().UTC()), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert product: %w", err)
	}
	return pr, inserted, nil
}

func (p *postgres) CreateProduct(ctx context.Context, pr model.Product) (*model.Product, error) {
	now := time.Now().UTC()
	query := `INSERT INTO products (` + productColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	          RETURNING ` + productColumns
	out, err := scanProduct(p.db.QueryRow(ctx, query,
		NewID(), pr.ProductID, pr.SatelliteID, pr.ProcessingLevel, pr.IsVisible,
		pr.ProductDisplayName, appendMissing(nil, pr.Cogs), now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return out, nil
}

func (p *postgres) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	pr, err := scanProduct(p.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return pr, err
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(format string, values ...any) {
	placeholders := make([]any, len(values))
	for i, v := range values {
		w.args = append(w.args, v)
		placeholders[i] = fmt.Sprintf("$%d", len(w.args))
	}
	w.clauses = append(w.clauses, fmt.Sprintf(format, placeholders...))
}

func (w *whereBuilder) inList(col string, values []string) {
	if len(values) > 0 {
		w.add(col+" = ANY(%s)", values)
	}
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func buildProductWhere(q ProductQuery) *whereBuilder {
	w := &whereBuilder{}
	w.inList("id", q.IDs)
	w.inList("product_id", q.ProductIDs)
	w.inList("satellite_id", q.SatelliteIDs)
	w.inList("processing_level", q.ProcessingLevels)
	if q.VisibleOnly {
		w.add("is_visible = %s", true)
	}
	if q.CreatedFrom != nil {
		w.add("created_at >= %s", *q.CreatedFrom)
	}
	if q.CreatedTo != nil {
		w.add("created_at <= %s", *q.CreatedTo)
	}
	return w
}

var productSortColumns = map[string]string{
	"createdAt":       "created_at",
	"productId":       "product_id",
	"satelliteId":     "satellite_id",
	"processingLevel": "processing_level",
}

func productOrderBy(q ProductQuery) string {
	col, ok := productSortColumns[q.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id ASC", col, dir)
}

func limitClause(w *whereBuilder, limit, skip int) string {
	var sb strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(w.args))
	}
	if skip > 0 {
		w.args = append(w.args, skip)
		fmt.Fprintf(&sb, " OFFSET $%d", len(w.args))
	}
	return sb.String()
}

func (p *postgres) FindProducts(ctx context.Context, q ProductQuery) ([]model.Product, error) {
	w := buildProductWhere(q)
	query := `SELECT ` + productColumns + ` FROM products` + w.String() + productOrderBy(q) + limitClause(w, q.Limit, q.Skip)

	rows, err := p.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer rows.Close()

	out := make([]model.Product, 0)
	for rows.Next() {
		pr, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, *pr)
	}
	return out, rows.Err()
}

func (p *postgres) CountProducts(ctx context.Context, q ProductQuery) (int, error) {
	w := buildProductWhere(q)
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (p *postgres) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (*model.Product, error) {
	query := `UPDATE products SET
	              product_display_name = COALESCE($2, product_display_name),
	              is_visible = COALESCE($3, is_visible),
	              updated_at = $4
	          WHERE id = $1
	          RETURNING ` + productColumns
	pr, err := scanProduct(p.db.QueryRow(ctx, query, id, upd.ProductDisplayName, upd.IsVisible, time.Now().UTC()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return pr, err
}

func (p *postgres) SetProductsVisibility(ctx context.Context, ids []string, visible bool) (int, error) {
	result, err := p.db.Exec(ctx,
		`UPDATE products SET is_visible = $2, updated_at = $3 WHERE id = ANY($1) AND is_visible <> $2`,
		nonNil(ids), visible, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to set product visibility: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (p *postgres) DeleteProduct(ctx context.Context, id string) (*model.Product, int, error) {
	var (
		deleted *model.Product
		removed int
	)
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		pr, err := scanProduct(tx.QueryRow(ctx, `DELETE FROM products WHERE id = $1 RETURNING `+productColumns, id))
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `DELETE FROM cogs WHERE product = $1 RETURNING id`, id)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE satellites
			SET products = array_remove(products, $2),
			    cogs = ARRAY(SELECT c FROM unnest(cogs) c WHERE c <> ALL($3)),
			    updated_at = now()
			WHERE satellite_id = $1`, pr.SatelliteID, id, nonNil(ids))
		if err != nil {
			return err
		}
		deleted, removed = pr, len(ids)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to delete product: %w", err)
	}
	return deleted, removed, nil
}

func (p *postgres) AddProductCogs(ctx context.Context, productID string, cogIDs []string) error {
	query := `UPDATE products SET cogs = ` + addToSetSQL("cogs", "$2") + `, updated_at = $3 WHERE id = $1`
	result, err := p.db.Exec(ctx, query, productID, nonNil(cogIDs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add product cogs: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) InsertCog(ctx context.Context, cog model.Cog) error {
	if cog.ID == "" {
		cog.ID = NewID()
	}
	if cog.CreatedAt.IsZero() {
		cog.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(cog)
	if err != nil {
		return fmt.Errorf("failed to marshal cog: %w", err)
	}

	query := `INSERT INTO cogs (id, satellite_id, product, product_code, processing_level, type, aquisition_datetime, doc, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = p.db.Exec(ctx, query,
		cog.ID, cog.SatelliteID, cog.Product, cog.ProductCode, cog.ProcessingLevel,
		cog.Type, cog.AquisitionDatetime, doc, cog.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert cog: %w", err)
	}
	return nil
}

// buildCogWhere translates a CogQuery into a WHERE clause. The boolean result is false
// when the query can match nothing.
func buildCogWhere(q CogQuery) (*whereBuilder, bool) {
	if q.RestrictProducts && len(q.ProductIDs) == 0 {
		return nil, false
	}
	w := &whereBuilder{}
	w.inList("id", q.IDs)
	w.inList("satellite_id", q.SatelliteIDs)
	w.inList("processing_level", q.ProcessingLevels)
	w.inList("product_code", q.ProductCodes)
	w.inList("type", q.Types)
	if q.RestrictProducts {
		w.add("product = ANY(%s)", q.ProductIDs)
	}
	if q.From != nil {
		w.add("aquisition_datetime >= %s", *q.From)
	}
	if q.To != nil {
		w.add("aquisition_datetime <= %s", *q.To)
	}
	return w, true
}

func cogOrderBy(s SortOrder) string {
	switch s {
	case SortAsc:
		return " ORDER BY aquisition_datetime ASC, id ASC"
	case SortDesc:
		return " ORDER BY aquisition_datetime DESC, id ASC"
	default:
		return " ORDER BY id ASC"
	}
}

func (p *postgres) FindCogs(ctx context.Context, q CogQuery) ([]model.Cog, error) {
	w, ok := buildCogWhere(q)
	if !ok {
		return []model.Cog{}, nil
	}
	query := `SELECT doc FROM cogs` + w.String() + cogOrderBy(q.Sort) + limitClause(w, q.Limit, q.Skip)

	rows, err := p.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find cogs: %w", err)
	}
	defer rows.Close()

	out := make([]model.Cog, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan cog: %w", err)
		}
		var c model.Cog
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cog: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *postgres) DeleteCogsBefore(ctx context.Context, cutoff int64) (int, error) {
	var removed int
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `DELETE FROM cogs WHERE aquisition_datetime < $1 RETURNING id`, cutoff)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		removed = len(ids)
		if removed == 0 {
			return nil
		}
		pull := `cogs = ARRAY(SELECT c FROM unnest(cogs) c WHERE c <> ALL($1))`
		if _, err := tx.Exec(ctx, `UPDATE products SET `+pull+` WHERE cogs && $1`, ids); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE satellites SET `+pull+` WHERE cogs && $1`, ids)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge cogs: %w", err)
	}
	return removed, nil
}

func (p *postgres) CreateUser(ctx context.Context, u model.User) error {
	query := `INSERT INTO users (id, email, password_hash, first_name, last_name, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := p.db.Exec(ctx, query, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (p *postgres) getUser(ctx context.Context, where string, arg string) (*model.User, error) {
	var u model.User
	err := p.db.QueryRow(ctx,
		`SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (p *postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.getUser(ctx, "lower(email) = lower($1)", email)
}

func (p *postgres) GetUser(ctx context.Context, id string) (*model.User, error) {
	return p.getUser(ctx, "id = $1", id)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
