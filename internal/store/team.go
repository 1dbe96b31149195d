package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const teamColumns = "id, name, role, bio, phone, email, image, is_leader, created_at, updated_at"

// GetTeamMembers lists team members, leader first
func (s *Store) GetTeamMembers(ctx context.Context) ([]models.TeamMember, error) {
	members := []models.TeamMember{}
	err := s.db.SelectContext(ctx, &members,
		"SELECT "+teamColumns+" FROM team_members ORDER BY is_leader DESC, created_at ASC")
	return members, err
}

// GetTeamMemberByID retrieves a team member
func (s *Store) GetTeamMemberByID(ctx context.Context, id string) (*models.TeamMember, error) {
	pk, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var member models.TeamMember
	err = s.db.GetContext(ctx, &member, "SELECT "+teamColumns+" FROM team_members WHERE id = $1", pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// CountLeaders returns how many members are flagged as leader
func (s *Store) CountLeaders(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM team_members WHERE is_leader")
	return n, err
}

// CreateTeamMember inserts a member. A second leader returns ErrLeaderExists.
func (s *Store) CreateTeamMember(ctx context.Context, member *models.TeamMember) error {
	query := `
		INSERT INTO team_members (name, role, bio, phone, email, image, is_leader)
		VALUES (:name, :role, :bio, :phone, :email, :image, :is_leader)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, member)
	if err != nil {
		return mapTeamError(err, "insert")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mapTeamError(err, "insert")
		}
		return fmt.Errorf("failed to insert team member: no row returned")
	}
	return rows.Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)
}

// UpdateTeamMember replaces the mutable fields of a member
func (s *Store) UpdateTeamMember(ctx context.Context, member *models.TeamMember) error {
	pk, err := parseID(member.ID)
	if err != nil {
		return err
	}

	err = s.db.GetContext(ctx, member, `
		UPDATE team_members
		SET name = $1, role = $2, bio = $3, phone = $4, email = $5, image = $6, is_leader = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING `+teamColumns,
		member.Name, member.Role, member.Bio, member.Phone, member.Email, member.Image, member.IsLeader, pk)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapTeamError(err, "update")
	}
	return nil
}

// DeleteTeamMember removes a member
func (s *Store) DeleteTeamMember(ctx context.Context, id string) error {
	pk, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM team_members WHERE id = $1", pk)
	if err != nil {
		return fmt.Errorf("failed to delete team member: %w", err)
	}
	return expectOne(res)
}

func mapTeamError(err error, op string) error {
	if constraint, ok := uniqueConstraint(err); ok && constraint == constraintSingleLeader {
		return ErrLeaderExists
	}
	return fmt.Errorf("failed to %s team member: %w", op, err)
}
