package storage

import (
	"context"
	"fmt"
)

// DirectoryRepository reads the active LGU directory.
type DirectoryRepository struct {
	db DB
}

// NewDirectoryRepository creates a new directory repository.
func NewDirectoryRepository(db DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListBarangays returns every active barangay.
func (r *DirectoryRepository) ListBarangays(ctx context.Context) ([]LGU, error) {
	query := `
		SELECT id, name, city_id, municipality_id
		FROM barangays
		WHERE is_active
		ORDER BY name, id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list barangays: %w", err)
	}
	defer rows.Close()

	var out []LGU
	for rows.Next() {
		lgu := LGU{Type: ScopeBarangay}
		if err := rows.Scan(&lgu.ID, &lgu.Name, &lgu.CityID, &lgu.MunicipalityID); err != nil {
			return nil, err
		}
		out = append(out, lgu)
	}
	return out, rows.Err()
}

// ListCities returns every active city.
func (r *DirectoryRepository) ListCities(ctx context.Context) ([]LGU, error) {
	return r.listSimple(ctx, "cities", ScopeCity)
}

// ListMunicipalities returns every active municipality.
func (r *DirectoryRepository) ListMunicipalities(ctx context.Context) ([]LGU, error) {
	return r.listSimple(ctx, "municipalities", ScopeMunicipality)
}

func (r *DirectoryRepository) listSimple(ctx context.Context, table string, scopeType ScopeType) ([]LGU, error) {
	query := `SELECT id, name FROM ` + table + ` WHERE is_active ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []LGU
	for rows.Next() {
		lgu := LGU{Type: scopeType}
		if err := rows.Scan(&lgu.ID, &lgu.Name); err != nil {
			return nil, err
		}
		out = append(out, lgu)
	}
	return out, rows.Err()
}

// GetBarangay retrieves a barangay by ID, active or not.
func (r *DirectoryRepository) GetBarangay(ctx context.Context, id string) (*LGU, error) {
	query := `SELECT id, name, city_id, municipality_id FROM barangays WHERE id = $1`
	lgu := &LGU{Type: ScopeBarangay}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&lgu.ID, &lgu.Name, &lgu.CityID, &lgu.MunicipalityID)
	if err != nil {
		return nil, notFound(err)
	}
	return lgu, nil
}
