package repository

import (
	"context"
	"fmt"
	"strings"

	"mentorChat/pkg/api"

	"github.com/georgysavva/scany/pgxscan"
)

const profileColumns = `u.uid, u.first_name, u.last_name, u.username, u.email, u.photo_url,
	u.role, u.bio, u.skills, u.learning_goals, u.last_activity`

// searchLimit bounds profile search results.
const searchLimit = 25

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern matches values containing search literally.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

func (s *storage) GetProfile(ctx context.Context, userId string) (*api.ProfileModel, error) {
	var users []*api.ProfileModel
	query := "SELECT " + profileColumns + " FROM user_account u WHERE u.uid = $1"
	if err := pgxscan.Select(ctx, s.db, &users, query, userId); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", userId, api.ErrNotFound)
	}
	return users[0], nil
}

func (s *storage) GetProfilesByIds(ctx context.Context, userIds []string) ([]*api.ProfileModel, error) {
	var users []*api.ProfileModel
	query := "SELECT " + profileColumns + " FROM user_account u WHERE u.uid = ANY($1)"
	if err := pgxscan.Select(ctx, s.db, &users, query, userIds); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *storage) SearchProfiles(ctx context.Context, search string) ([]*api.ProfileModel, error) {
	var users []*api.ProfileModel
	query := "SELECT " + profileColumns + ` FROM user_account u
		WHERE u.username ILIKE $1 ESCAPE '\'
		   OR (coalesce(u.first_name, '') || ' ' || coalesce(u.last_name, '')) ILIKE $1 ESCAPE '\'
		ORDER BY u.username
		LIMIT $2`
	if err := pgxscan.Select(ctx, s.db, &users, query, containsPattern(search), searchLimit); err != nil {
		return nil, err
	}
	return users, nil
}

// GetConnections lists the accepted connections of userId, whichever side of
// the mentor/learner pair the user is on.
func (s *storage) GetConnections(ctx context.Context, userId string) ([]*api.ConnectionModel, error) {
	var connections []*api.ConnectionModel
	query := "SELECT " + profileColumns + `, c.accepted_at AS connected_at
		FROM connection c
		JOIN user_account u
		  ON u.uid = CASE WHEN c.mentor_id = $1 THEN c.learner_id ELSE c.mentor_id END
		WHERE (c.mentor_id = $1 OR c.learner_id = $1)
		  AND c.status = 'accepted'
		ORDER BY c.accepted_at DESC`
	if err := pgxscan.Select(ctx, s.db, &connections, query, userId); err != nil {
		return nil, err
	}
	return connections, nil
}

func (s *storage) UpdateProfile(ctx context.Context, userId string, edit api.ProfileEdit) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE user_account SET bio = $2, skills = $3, learning_goals = $4 WHERE uid = $1",
		userId, edit.Bio, edit.Skills, edit.LearningGoals)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userId, api.ErrNotFound)
	}
	return nil
}
