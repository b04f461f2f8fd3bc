package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// Product is one validated CSV row ready to be persisted.
type Product struct {
	SKU         string
	Name        string
	Price       pgtype.Numeric
	Description pgtype.Text
	Category    pgtype.Text
	Stock       pgtype.Int4
	Active      pgtype.Bool
	Expires     pgtype.Date
	UpdatedBy   string
}

// ProductStore persists products keyed by SKU.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p Product) error
}

// rowIssue is a row-level validation failure with its error code.
type rowIssue struct {
	code string
	msg  string
}

func (e rowIssue) Error() string { return e.msg }

// buildProduct validates row against specs and builds the Product.
// The first failing column is reported.
func buildProduct(row []string, idx HeaderIndex, specs []FieldSpec, usuario string) (Product, error) {
	for _, spec := range specs {
		raw := cell(row, idx, spec.Name)

		if raw == "" {
			if spec.Required {
				return Product{}, rowIssue{CodeRequiredField, fmt.Sprintf("el campo %q es obligatorio", spec.Name)}
			}
			continue
		}
		if spec.MaxLen > 0 && utf8.RuneCountInString(raw) > spec.MaxLen {
			return Product{}, rowIssue{CodeTooLong, fmt.Sprintf("el campo %q excede %d caracteres", spec.Name, spec.MaxLen)}
		}
		if err := validateCell(raw, spec); err != nil {
			return Product{}, err
		}
	}

	p := Product{
		SKU:         cell(row, idx, "sku"),
		Name:        cell(row, idx, "nombre"),
		Price:       ToPgNumeric(cell(row, idx, "precio")),
		Description: ToPgText(cell(row, idx, "descripcion")),
		Category:    ToPgText(cell(row, idx, "categoria")),
		Stock:       ToPgInt4(cell(row, idx, "stock")),
		Active:      ToPgBool(cell(row, idx, "activo")),
		Expires:     ToPgDate(cell(row, idx, "vence")),
		UpdatedBy:   usuario,
	}
	if !p.Active.Valid {
		p.Active = pgtype.Bool{Bool: true, Valid: true}
	}

	if f, err := p.Price.Float64Value(); err == nil && f.Valid && f.Float64 < 0 {
		return Product{}, rowIssue{CodeNegative, "el precio no puede ser negativo"}
	}
	if p.Stock.Valid && p.Stock.Int32 < 0 {
		return Product{}, rowIssue{CodeNegative, "el stock no puede ser negativo"}
	}
	return p, nil
}

func validateCell(value string, spec FieldSpec) error {
	var ok bool
	switch spec.Type {
	case FieldNumeric:
		ok = ToPgNumeric(value).Valid
	case FieldInteger:
		ok = ToPgInt4(value).Valid
	case FieldDate:
		ok = ToPgDate(value).Valid
	case FieldBool:
		ok = ToPgBool(value).Valid
	default:
		return nil
	}
	if ok {
		return nil
	}
	return rowIssue{CodeInvalidType, fmt.Sprintf("valor inválido para %q (%s): %q", spec.Name, fieldTypeName(spec.Type), value)}
}

func fieldTypeName(ft FieldType) string {
	switch ft {
	case FieldNumeric:
		return "número"
	case FieldInteger:
		return "entero"
	case FieldDate:
		return "fecha"
	case FieldBool:
		return "sí/no"
	default:
		return "texto"
	}
}
