package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const leaderLockKey = "team-leader"

// TeamService manages team profiles. At most one member may be leader:
// leader changes are serialized through a lock, and the repository
// rejects a second leader regardless.
type TeamService struct {
	team    TeamRepository
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewTeamService creates a new team service. locker may be nil.
func NewTeamService(team TeamRepository, locker Locker, lockTTL time.Duration) *TeamService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &TeamService{
		team:    team,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
	}
}

func (s *TeamService) ListMembers(ctx context.Context) ([]models.TeamMember, error) {
	members, err := s.team.GetTeamMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return members, nil
}

func (s *TeamService) GetMember(ctx context.Context, id string) (*models.TeamMember, error) {
	member, err := s.team.GetTeamMemberByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team member: %w", err)
	}
	return member, nil
}

func (s *TeamService) CreateMember(ctx context.Context, member *models.TeamMember) error {
	ctx, span := util.StartSpan(ctx, "TeamService.CreateMember")
	defer span.End()

	if err := validateMember(member); err != nil {
		return err
	}

	create := func() error {
		return s.team.CreateTeamMember(ctx, member)
	}
	var err error
	if member.IsLeader {
		err = s.withLeaderLock(ctx, create)
	} else {
		err = create()
	}
	if err != nil {
		util.RecordError(span, err)
		return mapTeamError(err, "create")
	}

	util.CatalogMutationsTotal.WithLabelValues("team", "create").Inc()
	s.logger.Info("Team member created",
		zap.String("id", member.ID),
		zap.Bool("leader", member.IsLeader))
	return nil
}

// UpdateMember replaces the member stored under id
func (s *TeamService) UpdateMember(ctx context.Context, id string, member *models.TeamMember) error {
	ctx, span := util.StartSpan(ctx, "TeamService.UpdateMember")
	defer span.End()

	if err := validateMember(member); err != nil {
		return err
	}

	existing, err := s.GetMember(ctx, id)
	if err != nil {
		return err
	}
	member.ID = id

	update := func() error {
		return s.team.UpdateTeamMember(ctx, member)
	}
	if member.IsLeader && !existing.IsLeader {
		err = s.withLeaderLock(ctx, update)
	} else {
		err = update()
	}
	if err != nil {
		util.RecordError(span, err)
		return mapTeamError(err, "update")
	}

	util.CatalogMutationsTotal.WithLabelValues("team", "update").Inc()
	return nil
}

func (s *TeamService) DeleteMember(ctx context.Context, id string) error {
	err := s.team.DeleteTeamMember(ctx, id)
	if err != nil {
		return mapTeamError(err, "delete")
	}

	util.CatalogMutationsTotal.WithLabelValues("team", "delete").Inc()
	s.logger.Info("Team member deleted", zap.String("id", id))
	return nil
}

// withLeaderLock runs fn while holding the leader lock, after checking
// that no other member already leads
func (s *TeamService) withLeaderLock(ctx context.Context, fn func() error) error {
	if s.locker != nil {
		lock, ok, err := s.locker.AcquireLock(ctx, leaderLockKey, s.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLeaderBusy
		}
		defer func() {
			if err := s.locker.ReleaseLock(ctx, lock); err != nil {
				s.logger.Warn("Failed to release leader lock", zap.Error(err))
			}
		}()
	}

	leaders, err := s.team.CountLeaders(ctx)
	if err != nil {
		return err
	}
	if leaders > 0 {
		return ErrLeaderExists
	}

	return fn()
}

func validateMember(m *models.TeamMember) error {
	if m == nil {
		return newValidationError(map[string]string{"body": "request body is required"})
	}

	m.Name = strings.TrimSpace(m.Name)
	m.Role = strings.TrimSpace(m.Role)

	fields := map[string]string{}
	if m.Name == "" {
		fields["name"] = "name is required"
	}
	if m.Role == "" {
		fields["role"] = "role is required"
	}
	if msg := validateImage(m.Image); msg != "" {
		fields["image"] = msg
	}
	return newValidationError(fields)
}

func mapTeamError(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrMemberNotFound
	case errors.Is(err, store.ErrLeaderExists), errors.Is(err, ErrLeaderExists):
		return ErrLeaderExists
	case errors.Is(err, ErrLeaderBusy):
		return ErrLeaderBusy
	default:
		return fmt.Errorf("failed to %s team member: %w", op, err)
	}
}
