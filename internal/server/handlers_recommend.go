package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

func (a *App) createRecommendation(c *gin.Context) {
	var payload recommendationRequest
	if !mustJSON(c, &payload) {
		return
	}

	currentMood, ok := normalizeMood(payload.CurrentMood, validCurrentMoods)
	if !ok {
		writeError(c, http.StatusBadRequest, "current_mood must be one of: stress, tired, energetic")
		return
	}
	desiredMood, ok := normalizeMood(payload.DesiredMood, validDesiredMoods)
	if !ok {
		writeError(c, http.StatusBadRequest, "desired_mood must be one of: relax, energize, focus")
		return
	}

	// Ownership only reorders results. Anonymous callers and profile load
	// failures both degrade to an empty owned set, never an error.
	ownedIDs := map[string]struct{}{}
	if user, authed := authUserFromContext(c); authed {
		owned, err := loadOwnedAromas(c.Request.Context(), a.db, user.ID)
		if err != nil {
			log.Printf("owned aroma lookup failed user_id=%s err=%v", user.ID, err)
		} else {
			ownedIDs = ownedIDSet(owned)
		}
	}

	result := matchByMood(currentMood, desiredMood, a.catalog)
	ranked := rankOwnedFirst(result.Aromas, ownedIDs)

	c.JSON(http.StatusOK, gin.H{
		"current_mood": currentMood,
		"desired_mood": desiredMood,
		"aromas":       ranked,
		"blend":        result.Blend,
	})
}

func loadOwnedAromas(ctx context.Context, q dbQuerier, userID string) ([]string, error) {
	var owned []string
	err := q.QueryRow(
		ctx,
		`SELECT COALESCE(owned_aromas, '{}')
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&owned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return owned, nil
}
