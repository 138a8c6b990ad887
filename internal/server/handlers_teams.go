package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type teamRecord struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	InviteCode  string
	IsPublic    bool
	CreatedAt   time.Time
	MemberCount int
}

type teamMemberRecord struct {
	UserID   string
	Name     string
	Role     string
	JoinedAt time.Time
}

type teamJoinRequest struct {
	InviteCode string `json:"invite_code"`
}

const teamRecentRecordLimit = 20

func (a *App) listTeams(c *gin.Context) {
	publicTeams, err := a.loadTeams(
		c.Request.Context(),
		`WHERE t.is_public`,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load teams")
		return
	}

	response := gin.H{"teams": teamList(publicTeams)}

	if user, authed := authUserFromContext(c); authed {
		myTeams, err := a.loadTeams(
			c.Request.Context(),
			`WHERE t.id IN (SELECT team_id FROM team_members WHERE user_id = $1)`,
			user.ID,
		)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to load teams")
			return
		}
		response["my_teams"] = teamList(myTeams)
	}

	c.JSON(http.StatusOK, response)
}

func (a *App) createTeam(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload teamCreateRequest
	if !mustJSON(c, &payload) {
		return
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeError(c, http.StatusBadRequest, "name is required")
		return
	}

	isPublic := true
	if payload.IsPublic != nil {
		isPublic = *payload.IsPublic
	}

	team := teamRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(payload.Description),
		CreatedBy:   user.ID,
		InviteCode:  newInviteCode(),
		IsPublic:    isPublic,
		MemberCount: 1,
	}

	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO teams (
			id, name, description, created_by, invite_code, is_public, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		team.ID,
		team.Name,
		team.Description,
		team.CreatedBy,
		team.InviteCode,
		team.IsPublic,
	).Scan(&team.CreatedAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create team")
		return
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO team_members (team_id, user_id, role, joined_at)
		 VALUES ($1, $2, 'admin', NOW())`,
		team.ID,
		user.ID,
	); err != nil {
		// Roll back the orphan team so the creator can retry cleanly.
		_, _ = a.db.Exec(c.Request.Context(), `DELETE FROM teams WHERE id = $1`, team.ID)
		writeError(c, http.StatusInternalServerError, "Failed to create team")
		return
	}

	c.JSON(http.StatusOK, gin.H{"team": teamMap(team, true)})
}

func (a *App) getTeamDetail(c *gin.Context) {
	teamID := strings.TrimSpace(c.Param("team_id"))
	if teamID == "" {
		writeError(c, http.StatusBadRequest, "team_id is required")
		return
	}

	team, err := a.loadTeam(c.Request.Context(), teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Team not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load team")
		return
	}

	members, err := a.loadTeamMembers(c.Request.Context(), team.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load team members")
		return
	}

	callerIsMember := false
	user, authed := authUserFromContext(c)
	if authed {
		for _, member := range members {
			if member.UserID == user.ID {
				callerIsMember = true
				break
			}
		}
	}
	// Private teams are invisible to non-members, indistinguishable from a
	// missing id.
	if !team.IsPublic && !callerIsMember {
		writeError(c, http.StatusNotFound, "Team not found")
		return
	}

	memberIDs := make([]string, 0, len(members))
	for _, member := range members {
		memberIDs = append(memberIDs, member.UserID)
	}

	memberRecords, err := a.loadMemberRecords(c.Request.Context(), memberIDs)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load team records")
		return
	}

	now := time.Now().UTC()
	recordsByUser := make(map[string][]usageRecord, len(members))
	for _, record := range memberRecords {
		recordsByUser[record.UserID] = append(recordsByUser[record.UserID], record)
	}

	type leaderboardEntry struct {
		member teamMemberRecord
		streak int
	}
	entries := make([]leaderboardEntry, 0, len(members))
	for _, member := range members {
		entries = append(entries, leaderboardEntry{
			member: member,
			streak: currentStreak(recordsByUser[member.UserID], now),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].streak > entries[j].streak
	})

	leaderboard := make([]gin.H, 0, len(entries))
	for rank, entry := range entries {
		leaderboard = append(leaderboard, gin.H{
			"rank":           rank + 1,
			"user_id":        entry.member.UserID,
			"name":           entry.member.Name,
			"current_streak": entry.streak,
		})
	}

	memberItems := make([]gin.H, 0, len(members))
	for _, member := range members {
		memberItems = append(memberItems, gin.H{
			"user_id":   member.UserID,
			"name":      member.Name,
			"role":      member.Role,
			"joined_at": member.JoinedAt.UTC(),
		})
	}

	recentLimit := teamRecentRecordLimit
	if len(memberRecords) < recentLimit {
		recentLimit = len(memberRecords)
	}
	recentItems := make([]gin.H, 0, recentLimit)
	for _, record := range memberRecords[:recentLimit] {
		recentItems = append(recentItems, recordMap(record))
	}

	c.JSON(http.StatusOK, gin.H{
		"team":           teamMap(team, callerIsMember),
		"members":        memberItems,
		"recent_records": recentItems,
		"leaderboard":    leaderboard,
	})
}

func (a *App) joinTeam(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	teamID := strings.TrimSpace(c.Param("team_id"))
	if teamID == "" {
		writeError(c, http.StatusBadRequest, "team_id is required")
		return
	}

	var payload teamJoinRequest
	if c.Request.ContentLength > 0 {
		if !mustJSON(c, &payload) {
			return
		}
	}

	team, err := a.loadTeam(c.Request.Context(), teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Team not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load team")
		return
	}

	if !team.IsPublic && strings.TrimSpace(payload.InviteCode) != team.InviteCode {
		writeError(c, http.StatusNotFound, "Team not found")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO team_members (team_id, user_id, role, joined_at)
		 VALUES ($1, $2, 'member', NOW())
		 ON CONFLICT (team_id, user_id) DO NOTHING`,
		team.ID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to join team")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusConflict, "Already a member of this team")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"team_id": team.ID,
		"user_id": user.ID,
		"role":    "member",
	})
}

func (a *App) leaveTeam(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	teamID := strings.TrimSpace(c.Param("team_id"))
	if teamID == "" {
		writeError(c, http.StatusBadRequest, "team_id is required")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`,
		teamID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to leave team")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Not a member of this team")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"team_id": teamID,
		"user_id": user.ID,
	})
}

func (a *App) loadTeam(ctx context.Context, teamID string) (teamRecord, error) {
	team := teamRecord{}
	err := a.db.QueryRow(
		ctx,
		`SELECT t.id, t.name, COALESCE(t.description, ''), t.created_by,
		        t.invite_code, t.is_public, t.created_at,
		        (SELECT COUNT(*)::int FROM team_members m WHERE m.team_id = t.id)
		 FROM teams t
		 WHERE t.id = $1`,
		teamID,
	).Scan(
		&team.ID,
		&team.Name,
		&team.Description,
		&team.CreatedBy,
		&team.InviteCode,
		&team.IsPublic,
		&team.CreatedAt,
		&team.MemberCount,
	)
	return team, err
}

func (a *App) loadTeams(ctx context.Context, whereClause string, args ...any) ([]teamRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT t.id, t.name, COALESCE(t.description, ''), t.created_by,
		        t.invite_code, t.is_public, t.created_at,
		        (SELECT COUNT(*)::int FROM team_members m WHERE m.team_id = t.id)
		 FROM teams t
		 `+whereClause+`
		 ORDER BY t.created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]teamRecord, 0, 16)
	for rows.Next() {
		team := teamRecord{}
		if err := rows.Scan(
			&team.ID,
			&team.Name,
			&team.Description,
			&team.CreatedBy,
			&team.InviteCode,
			&team.IsPublic,
			&team.CreatedAt,
			&team.MemberCount,
		); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func (a *App) loadTeamMembers(ctx context.Context, teamID string) ([]teamMemberRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT m.user_id, COALESCE(u.name, ''), m.role, m.joined_at
		 FROM team_members m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = $1
		 ORDER BY m.joined_at ASC`,
		teamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]teamMemberRecord, 0, 16)
	for rows.Next() {
		member := teamMemberRecord{}
		if err := rows.Scan(&member.UserID, &member.Name, &member.Role, &member.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// loadMemberRecords fetches every member's records date-descending; the
// team detail reuses the streak aggregations over this single result set.
func (a *App) loadMemberRecords(ctx context.Context, memberIDs []string) ([]usageRecord, error) {
	if len(memberIDs) == 0 {
		return []usageRecord{}, nil
	}

	rows, err := a.db.Query(
		ctx,
		`SELECT id, user_id, date, status,
		        COALESCE(selected_aromas, '{}'), COALESCE(used_aromas, '{}'),
		        mood_before, mood_after,
		        COALESCE(usage_method, ''), COALESCE(notes, ''), created_at
		 FROM records
		 WHERE user_id = ANY($1)
		 ORDER BY date DESC, created_at DESC`,
		memberIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]usageRecord, 0, 64)
	for rows.Next() {
		record := usageRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Date,
			&record.Status,
			&record.SelectedAromas,
			&record.UsedAromas,
			&record.MoodBefore,
			&record.MoodAfter,
			&record.UsageMethod,
			&record.Notes,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func teamList(teams []teamRecord) []gin.H {
	items := make([]gin.H, 0, len(teams))
	for _, team := range teams {
		items = append(items, teamMap(team, false))
	}
	return items
}

// teamMap hides the invite code from non-members.
func teamMap(team teamRecord, includeInviteCode bool) gin.H {
	item := gin.H{
		"id":           team.ID,
		"name":         team.Name,
		"description":  team.Description,
		"created_by":   team.CreatedBy,
		"is_public":    team.IsPublic,
		"member_count": team.MemberCount,
		"created_at":   team.CreatedAt.UTC(),
	}
	if includeInviteCode {
		item["invite_code"] = team.InviteCode
	}
	return item
}

func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
