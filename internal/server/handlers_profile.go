package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type profileRecord struct {
	UserID          string
	Nickname        string
	ExperienceLevel string
	OwnedAromas     []string
	Preferences     profilePreferences
	Goals           []string
	UpdatedAt       time.Time
}

func (a *App) getProfile(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	profile := profileRecord{}
	var preferencesRaw []byte
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT user_id, COALESCE(nickname, ''), COALESCE(experience_level, 'beginner'),
		        COALESCE(owned_aromas, '{}'), COALESCE(preferences, '{}'),
		        COALESCE(goals, '{}'), updated_at
		 FROM user_profiles
		 WHERE user_id = $1`,
		user.ID,
	).Scan(
		&profile.UserID,
		&profile.Nickname,
		&profile.ExperienceLevel,
		&profile.OwnedAromas,
		&preferencesRaw,
		&profile.Goals,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absent profile is a normal state, not a 404.
		c.JSON(http.StatusOK, gin.H{"profile": nil})
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	profile.Preferences = parseProfilePreferences(preferencesRaw)

	c.JSON(http.StatusOK, gin.H{"profile": profileMap(profile)})
}

func (a *App) upsertProfile(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload profileUpsertRequest
	if !mustJSON(c, &payload) {
		return
	}

	level, valid := normalizeExperienceLevel(payload.ExperienceLevel)
	if !valid {
		writeError(c, http.StatusBadRequest, "experience_level must be one of: beginner, intermediate, advanced")
		return
	}

	owned := uniqueTrimmedStrings(payload.OwnedAromas)
	for _, aromaID := range owned {
		if _, known := a.catalog.ByID(aromaID); !known {
			writeError(c, http.StatusBadRequest, "unknown aroma id: "+aromaID)
			return
		}
	}

	preferences := profilePreferences{}
	if payload.Preferences != nil {
		preferences.Wishlist = uniqueTrimmedStrings(payload.Preferences.Wishlist)
		for _, aromaID := range preferences.Wishlist {
			if _, known := a.catalog.ByID(aromaID); !known {
				writeError(c, http.StatusBadRequest, "unknown aroma id in wishlist: "+aromaID)
				return
			}
		}
		notificationTime := strings.TrimSpace(payload.Preferences.NotificationTime)
		if notificationTime != "" {
			if _, err := time.Parse("15:04", notificationTime); err != nil {
				writeError(c, http.StatusBadRequest, "preferences.notification_time must be formatted as HH:MM")
				return
			}
		}
		preferences.NotificationTime = notificationTime
	}

	profile := profileRecord{
		UserID:          user.ID,
		Nickname:        strings.TrimSpace(payload.Nickname),
		ExperienceLevel: level,
		OwnedAromas:     owned,
		Preferences:     preferences,
		Goals:           uniqueTrimmedStrings(payload.Goals),
	}

	err := a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO user_profiles (
			user_id, nickname, experience_level, owned_aromas, preferences, goals, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			experience_level = EXCLUDED.experience_level,
			owned_aromas = EXCLUDED.owned_aromas,
			preferences = EXCLUDED.preferences,
			goals = EXCLUDED.goals,
			updated_at = NOW()
		RETURNING updated_at`,
		profile.UserID,
		profile.Nickname,
		profile.ExperienceLevel,
		profile.OwnedAromas,
		mustMarshalJSON(profile.Preferences),
		profile.Goals,
	).Scan(&profile.UpdatedAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profileMap(profile)})
}

// parseProfilePreferences tolerates malformed stored JSON by falling back to
// the zero preferences instead of failing the whole profile read.
func parseProfilePreferences(raw []byte) profilePreferences {
	parsed := parseJSONStringMap(raw)
	preferences := profilePreferences{}
	if wishlist, ok := parsed["wishlist"].([]any); ok {
		for _, item := range wishlist {
			if id := strings.TrimSpace(toString(item)); id != "" {
				preferences.Wishlist = append(preferences.Wishlist, id)
			}
		}
	}
	preferences.NotificationTime = strings.TrimSpace(toString(parsed["notification_time"]))
	return preferences
}

func profileMap(profile profileRecord) gin.H {
	wishlist := profile.Preferences.Wishlist
	if wishlist == nil {
		wishlist = []string{}
	}
	return gin.H{
		"user_id":          profile.UserID,
		"nickname":         profile.Nickname,
		"experience_level": profile.ExperienceLevel,
		"owned_aromas":     profile.OwnedAromas,
		"preferences": gin.H{
			"wishlist":          wishlist,
			"notification_time": profile.Preferences.NotificationTime,
		},
		"goals":      profile.Goals,
		"updated_at": profile.UpdatedAt.UTC(),
	}
}
