// Package product upserts imported products keyed by SKU.
package product

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JonMunkholm/productimport/internal/engine"
	"github.com/JonMunkholm/productimport/internal/platform/postgres"
)

// Postgres writes products through pgx.
type Postgres struct {
	db postgres.DBTX
}

// NewPostgres returns a store over a pool or transaction.
func NewPostgres(db postgres.DBTX) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) UpsertProduct(ctx context.Context, p engine.Product) error {
	_, err := r.db.Exec(ctx, `INSERT INTO productos
		(sku, nombre, precio, descripcion, categoria, stock, activo, vence, usuario_registro, fecha_actualizacion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (sku) DO UPDATE SET
			nombre = EXCLUDED.nombre,
			precio = EXCLUDED.precio,
			descripcion = COALESCE(EXCLUDED.descripcion, productos.descripcion),
			categoria = COALESCE(EXCLUDED.categoria, productos.categoria),
			stock = COALESCE(EXCLUDED.stock, productos.stock),
			activo = EXCLUDED.activo,
			vence = COALESCE(EXCLUDED.vence, productos.vence),
			usuario_registro = EXCLUDED.usuario_registro,
			fecha_actualizacion = now()`,
		p.SKU, p.Name, p.Price, p.Description, p.Category, p.Stock, p.Active, p.Expires, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.SKU, err)
	}
	return nil
}

// SQLite writes products through database/sql.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a store over an opened and migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (r *SQLite) UpsertProduct(ctx context.Context, p engine.Product) error {
	price, err := p.Price.Float64Value()
	if err != nil || !price.Valid {
		return fmt.Errorf("upsert product %s: invalid price", p.SKU)
	}

	var stock, vence, description, category any
	if p.Stock.Valid {
		stock = p.Stock.Int32
	}
	if p.Expires.Valid {
		vence = p.Expires.Time.Format(time.DateOnly)
	}
	if p.Description.Valid {
		description = p.Description.String
	}
	if p.Category.Valid {
		category = p.Category.String
	}
	active := !p.Active.Valid || p.Active.Bool

	_, err = r.db.ExecContext(ctx, `INSERT INTO productos
		(sku, nombre, precio, descripcion, categoria, stock, activo, vence, usuario_registro, fecha_actualizacion)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		ON CONFLICT (sku) DO UPDATE SET
			nombre = excluded.nombre,
			precio = excluded.precio,
			descripcion = COALESCE(excluded.descripcion, productos.descripcion),
			categoria = COALESCE(excluded.categoria, productos.categoria),
			stock = COALESCE(excluded.stock, productos.stock),
			activo = excluded.activo,
			vence = COALESCE(excluded.vence, productos.vence),
			usuario_registro = excluded.usuario_registro,
			fecha_actualizacion = excluded.fecha_actualizacion`,
		p.SKU, p.Name, price.Float64, description, category, stock, active, vence, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.SKU, err)
	}
	return nil
}
