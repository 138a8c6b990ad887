package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Fumiyasu01/aroma-natural/internal/catalog"
)

const consultHistoryLimit = 50

// condensedAroma is the catalog projection embedded in the consult system
// prompt. Keeping it small holds the prompt under the model's useful budget.
type condensedAroma struct {
	NameJA   string        `json:"name_ja"`
	Effects  []string      `json:"effects"`
	Symptoms []string      `json:"symptoms"`
	Scenes   []string      `json:"scenes"`
	Cautions []string      `json:"cautions"`
	Usage    catalog.Usage `json:"usage"`
}

func (a *App) aiConsult(c *gin.Context) {
	var payload consultRequest
	if !mustJSON(c, &payload) {
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}

	aiResponse, err := a.ai.Query(c.Request.Context(), AIModelRequest{
		SystemPrompt: buildConsultSystemPrompt(a.catalog),
		UserPrompt:   message,
	})
	if err != nil {
		log.Printf("ai consult failed err=%v", err)
		writeError(c, http.StatusServiceUnavailable, "AI consultation is temporarily unavailable")
		return
	}

	answer := strings.TrimSpace(aiResponse.Answer)
	suggested := extractSuggestedAromas(answer, a.catalog)

	// History is best effort. A failed insert never degrades the answer the
	// caller already paid an AI call for.
	if payload.SaveHistory {
		if user, authed := authUserFromContext(c); authed {
			if saveErr := a.saveConsultation(c, user.ID, message, answer, suggested); saveErr != nil {
				log.Printf("consultation save failed user_id=%s err=%v", user.ID, saveErr)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"response":         answer,
		"suggested_aromas": suggested,
		"model":            aiResponse.Model,
	})
}

func (a *App) listConsultations(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, message, response, COALESCE(suggested_aromas, '{}'), created_at
		 FROM ai_consultations
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		user.ID,
		consultHistoryLimit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load consultations")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0, 16)
	for rows.Next() {
		var id, message, response string
		var suggested []string
		var createdAt time.Time
		if err := rows.Scan(&id, &message, &response, &suggested, &createdAt); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse consultations")
			return
		}
		items = append(items, gin.H{
			"id":               id,
			"message":          message,
			"response":         response,
			"suggested_aromas": suggested,
			"created_at":       createdAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"consultations": items})
}

func (a *App) saveConsultation(c *gin.Context, userID, message, answer string, suggested []string) error {
	_, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO ai_consultations (
			id, user_id, message, response, suggested_aromas, created_at
		) VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(),
		userID,
		message,
		answer,
		suggested,
	)
	return err
}

func buildConsultSystemPrompt(cat *catalog.Catalog) string {
	condensed := make([]condensedAroma, 0, cat.Len())
	for _, aroma := range cat.Aromas() {
		condensed = append(condensed, condensedAroma{
			NameJA:   aroma.NameJA,
			Effects:  aroma.Effects,
			Symptoms: aroma.Symptoms,
			Scenes:   aroma.Scenes,
			Cautions: aroma.Cautions,
			Usage:    aroma.Usage,
		})
	}

	return strings.Join([]string{
		"あなたは経験豊富なアロマセラピストです。",
		"ユーザーの悩みや気分に寄り添い、日本語で丁寧にアドバイスしてください。",
		"回答の中でおすすめする場合は、以下のカタログに含まれる精油だけを名前（日本語名）で挙げてください。",
		"医療行為の代替にはならないことを必要に応じて伝え、禁忌（妊娠中・高血圧など）に注意してください。",
		"回答は簡潔に、3〜5文程度でまとめてください。",
		"",
		"精油カタログ:",
		mustMarshalJSON(condensed),
	}, "\n")
}

// extractSuggestedAromas scans the reply for literal Japanese catalog names,
// in catalog order, so repeated mentions cannot duplicate an id.
func extractSuggestedAromas(answer string, cat *catalog.Catalog) []string {
	suggested := make([]string, 0, recommendationLimit)
	if strings.TrimSpace(answer) == "" {
		return suggested
	}
	for _, aroma := range cat.Aromas() {
		if len(suggested) >= recommendationLimit {
			break
		}
		if aroma.NameJA != "" && strings.Contains(answer, aroma.NameJA) {
			suggested = append(suggested, aroma.ID)
		}
	}
	return suggested
}
