package server

import (
	"net/http"
	"testing"
	"time"
)

func TestCreateTeamMakesCreatorAdmin(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/teams", token, map[string]any{
		"name":        "朝活アロマ部",
		"description": "毎朝ディフューザーを焚く会",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create team failed: %d %s", rec.Code, rec.Body.String())
	}
	team, ok := decodeJSONMap(t, rec)["team"].(map[string]any)
	if !ok {
		t.Fatal("expected team object")
	}
	if team["name"] != "朝活アロマ部" {
		t.Fatalf("unexpected team name: %v", team["name"])
	}
	if int(extractNumberFromMap(team, "member_count")) != 1 {
		t.Fatalf("expected creator as sole member, got %v", team["member_count"])
	}
	inviteCode, _ := team["invite_code"].(string)
	if len(inviteCode) != 8 {
		t.Fatalf("expected 8-char invite code, got %q", inviteCode)
	}
}

func TestCreateTeamRequiresName(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	userID := seedUser(t, "")

	rec := performRequest(t, router, http.MethodPost, "/api/v1/teams", signToken(t, userID, nil), map[string]any{
		"name": "   ",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
}

func TestListTeamsSplitsPublicAndMine(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	userID := seedUser(t, "")
	publicTeamID, _ := seedTeam(t, creatorID, true)
	privateTeamID, _ := seedTeam(t, creatorID, false)
	seedTeamMember(t, privateTeamID, userID)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/teams", signToken(t, userID, nil), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list teams failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)

	publicTeams := body["teams"].([]any)
	if len(publicTeams) != 1 || publicTeams[0].(map[string]any)["id"] != publicTeamID {
		t.Fatalf("expected only the public team, got %v", publicTeams)
	}
	if _, exposed := publicTeams[0].(map[string]any)["invite_code"]; exposed {
		t.Fatal("public listing must not expose invite codes")
	}

	myTeams := body["my_teams"].([]any)
	if len(myTeams) != 1 || myTeams[0].(map[string]any)["id"] != privateTeamID {
		t.Fatalf("expected the joined private team under my_teams, got %v", myTeams)
	}
}

func TestTeamDetailLeaderboardRanksByCurrentStreak(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	memberID := seedUser(t, "")
	teamID, _ := seedTeam(t, creatorID, true)
	seedTeamMember(t, teamID, memberID)

	now := time.Now().UTC()
	// The member logged today and yesterday, the creator only yesterday.
	seedRecord(t, memberID, now, recordStatusCompleted, []string{"lavender"}, nil, nil)
	seedRecord(t, memberID, now.AddDate(0, 0, -1), recordStatusCompleted, []string{"lavender"}, nil, nil)
	seedRecord(t, creatorID, now.AddDate(0, 0, -1), recordStatusCompleted, []string{"lemon"}, nil, nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("team detail failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)

	leaderboard, ok := body["leaderboard"].([]any)
	if !ok || len(leaderboard) != 2 {
		t.Fatalf("expected 2 leaderboard entries, got %v", body["leaderboard"])
	}
	first := leaderboard[0].(map[string]any)
	if first["user_id"] != memberID {
		t.Fatalf("expected member on top, got %v", first["user_id"])
	}
	if int(extractNumberFromMap(first, "current_streak")) != 2 {
		t.Fatalf("expected streak 2 on top, got %v", first["current_streak"])
	}
	second := leaderboard[1].(map[string]any)
	if int(extractNumberFromMap(second, "current_streak")) != 0 {
		t.Fatalf("creator without a today record must have streak 0, got %v", second["current_streak"])
	}

	members, ok := body["members"].([]any)
	if !ok || len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", body["members"])
	}
	if _, ok := body["recent_records"].([]any); !ok {
		t.Fatalf("expected recent_records list, got %v", body["recent_records"])
	}
}

func TestPrivateTeamHiddenFromNonMembers(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	outsiderID := seedUser(t, "")
	teamID, _ := seedTeam(t, creatorID, false)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, "", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("anonymous caller must not see a private team, got %d", rec.Code)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, signToken(t, outsiderID, nil), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("non-member must not see a private team, got %d", rec.Code)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, signToken(t, creatorID, nil), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member must see the private team, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTeamDetailSharesInviteCodeWithMembersOnly(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	outsiderID := seedUser(t, "")
	teamID, inviteCode := seedTeam(t, creatorID, true)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, signToken(t, creatorID, nil), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("team detail failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	team, _ := body["team"].(map[string]any)
	if got, _ := team["invite_code"].(string); got != inviteCode {
		t.Fatalf("member should see the invite code, got %q want %q", got, inviteCode)
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/teams/"+teamID, signToken(t, outsiderID, nil), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public team detail failed for non-member: %d %s", rec.Code, rec.Body.String())
	}
	body = decodeJSONMap(t, rec)
	team, _ = body["team"].(map[string]any)
	if _, exposed := team["invite_code"]; exposed {
		t.Fatal("non-member must not see the invite code")
	}
}

func TestJoinPublicTeam(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	userID := seedUser(t, "")
	teamID, _ := seedTeam(t, creatorID, true)
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/teams/"+teamID+"/join", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, router, http.MethodPost, "/api/v1/teams/"+teamID+"/join", token, nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate join, got %d", rec.Code)
	}
}

func TestJoinPrivateTeamRequiresInviteCode(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	userID := seedUser(t, "")
	teamID, inviteCode := seedTeam(t, creatorID, false)
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/teams/"+teamID+"/join", token, map[string]any{
		"invite_code": "WRONG123",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong invite code must look like a missing team, got %d", rec.Code)
	}

	rec = performRequest(t, router, http.MethodPost, "/api/v1/teams/"+teamID+"/join", token, map[string]any{
		"invite_code": inviteCode,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join with invite code failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLeaveTeam(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	creatorID := seedUser(t, "")
	userID := seedUser(t, "")
	teamID, _ := seedTeam(t, creatorID, true)
	seedTeamMember(t, teamID, userID)
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodDelete, "/api/v1/teams/"+teamID+"/join", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leave failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, router, http.MethodDelete, "/api/v1/teams/"+teamID+"/join", token, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when leaving twice, got %d", rec.Code)
	}
}

func TestTeamDetailUnknownID(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/teams/"+testID(), "", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown team, got %d", rec.Code)
	}
}
