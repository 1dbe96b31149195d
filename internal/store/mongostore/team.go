package mongostore

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type teamDoc struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	models.TeamMember `bson:",inline"`
}

func (d *teamDoc) toModel() models.TeamMember {
	m := d.TeamMember
	m.ID = d.ID.Hex()
	return m
}

// GetTeamMembers lists team members, leader first
func (s *Store) GetTeamMembers(ctx context.Context) ([]models.TeamMember, error) {
	opts := options.Find().SetSort(bson.D{{Key: "isLeader", Value: -1}, {Key: "createdAt", Value: 1}})
	cursor, err := s.team.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer cursor.Close(ctx)

	members := []models.TeamMember{}
	for cursor.Next(ctx) {
		var doc teamDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode team member: %w", err)
		}
		members = append(members, doc.toModel())
	}
	return members, cursor.Err()
}

// GetTeamMemberByID retrieves a team member
func (s *Store) GetTeamMemberByID(ctx context.Context, id string) (*models.TeamMember, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}

	var doc teamDoc
	err = s.team.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team member: %w", err)
	}
	m := doc.toModel()
	return &m, nil
}

// CountLeaders returns how many members are flagged as leader
func (s *Store) CountLeaders(ctx context.Context) (int, error) {
	n, err := s.team.CountDocuments(ctx, bson.M{"isLeader": true})
	return int(n), err
}

// CreateTeamMember inserts a member. A second leader returns store.ErrLeaderExists.
func (s *Store) CreateTeamMember(ctx context.Context, member *models.TeamMember) error {
	ts := now()
	member.CreatedAt = ts
	member.UpdatedAt = ts

	res, err := s.team.InsertOne(ctx, teamDoc{TeamMember: *member})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrLeaderExists
		}
		return fmt.Errorf("failed to insert team member: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		member.ID = oid.Hex()
	}
	return nil
}

// UpdateTeamMember replaces the mutable fields of a member
func (s *Store) UpdateTeamMember(ctx context.Context, member *models.TeamMember) error {
	oid, err := objectID(member.ID)
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"name":      member.Name,
		"role":      member.Role,
		"bio":       member.Bio,
		"phone":     member.Phone,
		"email":     member.Email,
		"image":     member.Image,
		"isLeader":  member.IsLeader,
		"updatedAt": now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc teamDoc
	err = s.team.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrLeaderExists
		}
		return fmt.Errorf("failed to update team member: %w", err)
	}
	*member = doc.toModel()
	return nil
}

// DeleteTeamMember removes a member
func (s *Store) DeleteTeamMember(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}

	res, err := s.team.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete team member: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
