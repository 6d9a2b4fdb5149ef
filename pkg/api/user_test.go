package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func TestProfileDisplayName(t *testing.T) {
	empty := ""
	tests := []struct {
		name    string
		profile *ProfileModel
		want    string
	}{
		{"full name", profile("u1", "Ada", "Lovelace", "mentor"), "Ada Lovelace"},
		{"first name only", &ProfileModel{Username: "ada", FirstName: strPtr("Ada"), LastName: &empty}, "Ada"},
		{"username fallback", &ProfileModel{Username: "ada"}, "ada"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.profile.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	users := newFakeUsers(profile("ada", "Ada", "Lovelace", "mentor"))
	service := NewUserService(users, zap.NewNop())

	got, err := service.GetProfile(context.Background(), "ada")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ada Lovelace" || got.Skills == nil || got.LearningGoals == nil {
		t.Errorf("profile = %+v", got)
	}

	if _, err := service.GetProfile(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := service.GetProfile(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetConnections(t *testing.T) {
	connectedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	users := newFakeUsers()
	users.connections["ada"] = []*ConnectionModel{
		{ProfileModel: *profile("grace", "Grace", "Hopper", "learner"), ConnectedAt: connectedAt},
	}

	connections, err := NewUserService(users, zap.NewNop()).GetConnections(context.Background(), "ada")
	if err != nil {
		t.Fatal(err)
	}
	want := []Connection{{
		Peer:        ProfileSnapshot{Id: "grace", Name: "Grace Hopper", Role: "learner"},
		ConnectedAt: connectedAt,
	}}
	if diff := cmp.Diff(want, connections); diff != "" {
		t.Errorf("connections (-want +got):\n%s", diff)
	}
}

func TestSearchProfilesRequiresQuery(t *testing.T) {
	service := NewUserService(newFakeUsers(), zap.NewNop())
	if _, err := service.SearchProfiles(context.Background(), "  "); err == nil {
		t.Error("blank query was accepted")
	}
}

func TestUpdateProfile(t *testing.T) {
	ada := profile("ada", "Ada", "Lovelace", "mentor")
	ada.Skills = []string{"Go"}
	users := newFakeUsers(ada)
	service := NewUserService(users, zap.NewNop())

	patch := []byte(`[
		{"op": "add", "path": "/skills/-", "value": "  Postgres "},
		{"op": "add", "path": "/skills/-", "value": "go"},
		{"op": "replace", "path": "/learningGoals", "value": ["Rust", "", "rust", "Elixir"]},
		{"op": "add", "path": "/bio", "value": " Analytical engines. "}
	]`)

	got, err := service.UpdateProfile(context.Background(), "ada", patch)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"Go", "Postgres"}, got.Skills); diff != "" {
		t.Errorf("skills (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Rust", "Elixir"}, got.LearningGoals); diff != "" {
		t.Errorf("learning goals (-want +got):\n%s", diff)
	}
	if got.Bio == nil || *got.Bio != "Analytical engines." {
		t.Errorf("bio = %v", got.Bio)
	}
	if diff := cmp.Diff(got.Skills, users.updated["ada"].Skills); diff != "" {
		t.Errorf("stored skills differ (-returned +stored):\n%s", diff)
	}
}

func TestUpdateProfileRejectsInvalidPatches(t *testing.T) {
	tests := []struct {
		name  string
		patch string
	}{
		{"not json", `{`},
		{"protected field", `[{"op": "replace", "path": "/role", "value": "admin"}]`},
		{"lookalike path", `[{"op": "replace", "path": "/skillset", "value": []}]`},
		{"failed test", `[{"op": "test", "path": "/bio", "value": "something else"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newFakeUsers(profile("ada", "Ada", "Lovelace", "mentor"))
			_, err := NewUserService(users, zap.NewNop()).UpdateProfile(context.Background(), "ada", []byte(tt.patch))
			if !errors.Is(err, ErrInvalidPatch) {
				t.Fatalf("err = %v, want ErrInvalidPatch", err)
			}
			if _, ok := users.updated["ada"]; ok {
				t.Error("profile was stored")
			}
		})
	}
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	service := NewUserService(newFakeUsers(), zap.NewNop())
	_, err := service.UpdateProfile(context.Background(), "nobody", []byte(`[{"op": "add", "path": "/bio", "value": "hi"}]`))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func strPtr(s string) *string {
	return &s
}
