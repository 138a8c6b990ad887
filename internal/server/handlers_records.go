package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (a *App) listRecords(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var monthFilter any
	if rawMonth := strings.TrimSpace(c.Query("month")); rawMonth != "" {
		parsed, err := time.Parse("2006-01", rawMonth)
		if err != nil {
			writeError(c, http.StatusBadRequest, "month must be formatted as YYYY-MM")
			return
		}
		monthFilter = time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	records, err := loadUserRecords(c.Request.Context(), a.db, user.ID, monthFilter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load records")
		return
	}

	items := make([]gin.H, 0, len(records))
	for _, record := range records {
		items = append(items, recordMap(record))
	}
	c.JSON(http.StatusOK, gin.H{"records": items})
}

func (a *App) createRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload recordCreateRequest
	if !mustJSON(c, &payload) {
		return
	}

	date, err := parseDate(payload.Date)
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
		return
	}

	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status == "" {
		status = recordStatusPlanned
	}
	if _, valid := validRecordStatuses[status]; !valid {
		writeError(c, http.StatusBadRequest, "status must be one of: planned, completed, skipped")
		return
	}

	if !validMoodScore(payload.MoodBefore) || !validMoodScore(payload.MoodAfter) {
		writeError(c, http.StatusBadRequest, "mood scores must be between 1 and 5")
		return
	}

	selected := uniqueTrimmedStrings(payload.SelectedAromas)
	used := uniqueTrimmedStrings(payload.UsedAromas)
	for _, aromaID := range append(append([]string{}, selected...), used...) {
		if _, known := a.catalog.ByID(aromaID); !known {
			writeError(c, http.StatusBadRequest, "unknown aroma id: "+aromaID)
			return
		}
	}

	record := usageRecord{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Date:           date,
		Status:         status,
		SelectedAromas: selected,
		UsedAromas:     used,
		MoodBefore:     payload.MoodBefore,
		MoodAfter:      payload.MoodAfter,
		UsageMethod:    strings.TrimSpace(payload.UsageMethod),
		Notes:          strings.TrimSpace(payload.Notes),
	}

	err = a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO records (
			id, user_id, date, status, selected_aromas, used_aromas,
			mood_before, mood_after, usage_method, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at`,
		record.ID,
		record.UserID,
		record.Date,
		record.Status,
		record.SelectedAromas,
		record.UsedAromas,
		record.MoodBefore,
		record.MoodAfter,
		record.UsageMethod,
		record.Notes,
	).Scan(&record.CreatedAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to create record")
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": recordMap(record)})
}

func (a *App) getRecordSummary(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := time.Now().UTC()
	year, month := now.Year(), now.Month()
	if rawMonth := strings.TrimSpace(c.Query("month")); rawMonth != "" {
		parsed, err := time.Parse("2006-01", rawMonth)
		if err != nil {
			writeError(c, http.StatusBadRequest, "month must be formatted as YYYY-MM")
			return
		}
		year, month = parsed.Year(), parsed.Month()
	}

	records, err := loadUserRecords(c.Request.Context(), a.db, user.ID, nil)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load records")
		return
	}

	topAromas := topAromaUsage(records, topAromaLimit)
	topItems := make([]gin.H, 0, len(topAromas))
	for _, usage := range topAromas {
		topItems = append(topItems, gin.H{
			"aroma_id": usage.AromaID,
			"count":    usage.Count,
		})
	}

	var improvement any
	if formatted, has := averageMoodImprovement(records); has {
		improvement = formatted
	}

	c.JSON(http.StatusOK, gin.H{
		"current_streak":   currentStreak(records, now),
		"longest_streak":   longestStreak(records),
		"monthly_count":    monthlyRecordCount(records, year, month),
		"top_aromas":       topItems,
		"mood_improvement": improvement,
	})
}

// loadUserRecords returns the user's records date-descending, optionally
// limited to a single calendar month when monthStart is non-nil.
func loadUserRecords(ctx context.Context, q dbQuerier, userID string, monthStart any) ([]usageRecord, error) {
	rows, err := q.Query(
		ctx,
		`SELECT id, user_id, date, status,
		        COALESCE(selected_aromas, '{}'), COALESCE(used_aromas, '{}'),
		        mood_before, mood_after,
		        COALESCE(usage_method, ''), COALESCE(notes, ''), created_at
		 FROM records
		 WHERE user_id = $1
		   AND ($2::date IS NULL OR (date >= $2 AND date < $2 + INTERVAL '1 month'))
		 ORDER BY date DESC, created_at DESC`,
		userID,
		monthStart,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]usageRecord, 0, 32)
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

func recordMap(record usageRecord) gin.H {
	return gin.H{
		"id":              record.ID,
		"user_id":         record.UserID,
		"date":            record.Date.UTC().Format("2006-01-02"),
		"status":          record.Status,
		"selected_aromas": record.SelectedAromas,
		"used_aromas":     record.UsedAromas,
		"mood_before":     record.MoodBefore,
		"mood_after":      record.MoodAfter,
		"usage_method":    record.UsageMethod,
		"notes":           record.Notes,
		"created_at":      record.CreatedAt.UTC(),
	}
}
