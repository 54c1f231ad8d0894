package storage

import (
	"database/sql"
	"fmt"
)

// Repository persists registry metadata. LocalStore keeps its own in-memory
// table and writes every mutation through to the repository.
type Repository interface {
	Upsert(info *FileInfo) error
	Delete(id string) error
	List() ([]*FileInfo, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(info *FileInfo) error {
	query := `INSERT INTO files (id, name, size_bytes, uploaded_at, status)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (id) DO UPDATE SET
			  name = EXCLUDED.name,
			  size_bytes = EXCLUDED.size_bytes,
			  status = EXCLUDED.status`

	_, err := r.db.Exec(query,
		info.ID,
		info.Name,
		info.Size,
		info.UploadedAt,
		info.Status,
	)
	return err
}

func (r *PostgresRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	return nil
}

func (r *PostgresRepository) List() ([]*FileInfo, error) {
	query := `SELECT id, name, size_bytes, uploaded_at, status
			  FROM files ORDER BY uploaded_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*FileInfo
	for rows.Next() {
		info := &FileInfo{}
		if err := rows.Scan(&info.ID, &info.Name, &info.Size, &info.UploadedAt, &info.Status); err != nil {
			return nil, err
		}
		files = append(files, info)
	}

	return files, rows.Err()
}
