package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"library/internal/validator"
	"strings"
	"time"
)

type Member struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"-"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Version   int32     `json:"version"`
}

func ValidateMember(v *validator.Validator, member *Member) {
	v.Check(member.Name != "", "name", "must be provided")
	v.Check(len(member.Name) <= 500, "name", "must not be more than 500 bytes long")
	v.Check(member.Email != "", "email", "must be provided")
	v.Check(validator.Matches(member.Email, validator.EmailRX), "email", "must be a valid email address")
	if member.Phone != nil {
		v.Check(*member.Phone != "", "phone", "must not be empty when provided")
		v.Check(len(*member.Phone) <= 30, "phone", "must not be more than 30 bytes long")
	}
}

type MemberModel struct {
	DB *sql.DB
}

func (m MemberModel) Insert(member *Member) error {
	query := `
INSERT INTO members (name, email, phone)
VALUES ($1, $2, $3)
RETURNING id, created_at, version`
	args := []interface{}{member.Name, member.Email, member.Phone}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&member.ID, &member.CreatedAt, &member.Version)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), `violates unique constraint "members_email_key"`):
			return ErrDuplicateEmail
		default:
			return err
		}
	}
	return nil
}

func (m MemberModel) Get(id int64) (*Member, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	query := `
SELECT id, created_at, name, email, phone, version
FROM members
WHERE id = $1`
	var member Member

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&member.ID,
		&member.CreatedAt,
		&member.Name,
		&member.Email,
		&member.Phone,
		&member.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &member, nil
}

func (m MemberModel) GetAll(filters Filters) ([]*Member, Metadata, error) {
	query := fmt.Sprintf(`
SELECT count(*) OVER(), id, created_at, name, email, phone, version
FROM members
ORDER BY %s %s, id ASC
LIMIT $1 OFFSET $2`, filters.sortColumn(), filters.sortDirection())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, query, filters.limit(), filters.offset())
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	members := []*Member{}
	for rows.Next() {
		var member Member
		err := rows.Scan(
			&totalRecords,
			&member.ID,
			&member.CreatedAt,
			&member.Name,
			&member.Email,
			&member.Phone,
			&member.Version,
		)
		if err != nil {
			return nil, Metadata{}, err
		}
		members = append(members, &member)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	metadata := calculateMetadata(totalRecords, filters.Page, filters.PageSize)

	return members, metadata, nil
}

func (m MemberModel) Update(member *Member) error {
	query := `
UPDATE members
SET name = $1, email = $2, phone = $3, version = version + 1
WHERE id = $4 AND version = $5
RETURNING version`
	args := []interface{}{
		member.Name,
		member.Email,
		member.Phone,
		member.ID,
		member.Version,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&member.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrEditConflict
		case strings.Contains(err.Error(), `violates unique constraint "members_email_key"`):
			return ErrDuplicateEmail
		default:
			return err
		}
	}
	return nil
}

// Delete refuses while the member still holds open loans; closed history is
// retained, same policy as for books.
func (m MemberModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}
	query := `
DELETE FROM members
WHERE id = $1
AND NOT EXISTS (SELECT 1 FROM loans WHERE member_id = $1 AND return_date IS NULL)`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := m.Get(id); err != nil {
			return err
		}
		return ErrOpenLoans
	}
	return nil
}
