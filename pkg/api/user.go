package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsonPatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"
)

var ErrInvalidPatch = errors.New("invalid profile patch")

type UserService interface {
	GetProfile(ctx context.Context, userId string) (Profile, error)
	SearchProfiles(ctx context.Context, query string) ([]ProfileSnapshot, error)
	GetConnections(ctx context.Context, userId string) ([]Connection, error)
	UpdateProfile(ctx context.Context, userId string, patchJSON []byte) (Profile, error)
}

type UserRepository interface {
	GetProfile(ctx context.Context, userId string) (*ProfileModel, error)
	GetProfilesByIds(ctx context.Context, userIds []string) ([]*ProfileModel, error)
	SearchProfiles(ctx context.Context, query string) ([]*ProfileModel, error)
	GetConnections(ctx context.Context, userId string) ([]*ConnectionModel, error)
	UpdateProfile(ctx context.Context, userId string, edit ProfileEdit) error
}

// ConnectionModel is an accepted connection joined with the peer's account.
type ConnectionModel struct {
	ProfileModel
	ConnectedAt time.Time `db:"connected_at"`
}

// ProfileEdit holds the profile fields a user may change themselves.
type ProfileEdit struct {
	Bio           *string  `json:"bio"`
	Skills        []string `json:"skills"`
	LearningGoals []string `json:"learningGoals"`
}

var editablePaths = []string{"/bio", "/skills", "/learningGoals"}

type userService struct {
	storage UserRepository
	logger  *zap.Logger
}

func NewUserService(repository UserRepository, logger *zap.Logger) UserService {
	return &userService{storage: repository, logger: logger}
}

func (u *userService) GetProfile(ctx context.Context, userId string) (Profile, error) {
	if userId == "" {
		return Profile{}, fmt.Errorf("user id is empty: %w", ErrNotFound)
	}

	profile, err := u.storage.GetProfile(ctx, userId)
	if err != nil {
		return Profile{}, storeError("get profile", err)
	}

	return profile.ConvertToProfile(), nil
}

func (u *userService) SearchProfiles(ctx context.Context, query string) ([]ProfileSnapshot, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}

	profiles, err := u.storage.SearchProfiles(ctx, query)
	if err != nil {
		return nil, storeError("search profiles", err)
	}

	return snapshots(profiles), nil
}

func (u *userService) GetConnections(ctx context.Context, userId string) ([]Connection, error) {
	rows, err := u.storage.GetConnections(ctx, userId)
	if err != nil {
		u.logger.Error("loading connections", zap.String("userId", userId), zap.Error(err))
		return nil, storeError("get connections", err)
	}

	connections := make([]Connection, 0, len(rows))
	for _, row := range rows {
		connections = append(connections, Connection{
			Peer:        row.ConvertToSnapshot(),
			ConnectedAt: row.ConnectedAt,
		})
	}
	return connections, nil
}

// UpdateProfile applies an RFC 6902 patch to the editable part of a profile
// (bio, skills and learning goals) and stores the result.
func (u *userService) UpdateProfile(ctx context.Context, userId string, patchJSON []byte) (Profile, error) {
	patch, err := jsonPatch.DecodePatch(patchJSON)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	for _, operation := range patch {
		path, err := operation.Path()
		if err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		if !isEditable(path) {
			return Profile{}, fmt.Errorf("%w: %s cannot be changed", ErrInvalidPatch, path)
		}
	}

	current, err := u.storage.GetProfile(ctx, userId)
	if err != nil {
		return Profile{}, storeError("get profile", err)
	}

	edit := ProfileEdit{Bio: current.Bio, Skills: current.Skills, LearningGoals: current.LearningGoals}
	if edit.Skills == nil {
		edit.Skills = []string{}
	}
	if edit.LearningGoals == nil {
		edit.LearningGoals = []string{}
	}

	editBinary, err := json.Marshal(edit)
	if err != nil {
		return Profile{}, err
	}

	editBinary, err = patch.Apply(editBinary)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var patched ProfileEdit
	if err := json.Unmarshal(editBinary, &patched); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	patched.Skills = normalizeEntries(patched.Skills)
	patched.LearningGoals = normalizeEntries(patched.LearningGoals)
	if patched.Bio != nil {
		bio := strings.TrimSpace(*patched.Bio)
		patched.Bio = &bio
	}

	if err := u.storage.UpdateProfile(ctx, userId, patched); err != nil {
		u.logger.Error("updating profile", zap.String("userId", userId), zap.Error(err))
		return Profile{}, storeError("update profile", err)
	}

	current.Bio = patched.Bio
	current.Skills = patched.Skills
	current.LearningGoals = patched.LearningGoals
	return current.ConvertToProfile(), nil
}

func isEditable(path string) bool {
	for _, prefix := range editablePaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// normalizeEntries trims entries and drops blanks and case-insensitive
// duplicates, keeping first occurrences.
func normalizeEntries(entries []string) []string {
	seen := make(map[string]bool, len(entries))
	normalized := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		key := strings.ToLower(entry)
		if entry == "" || seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, entry)
	}
	return normalized
}

func snapshots(profiles []*ProfileModel) []ProfileSnapshot {
	result := make([]ProfileSnapshot, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, profile.ConvertToSnapshot())
	}
	return result
}
