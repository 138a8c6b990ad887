package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fumiyasu01/aroma-natural/internal/catalog"
	"github.com/Fumiyasu01/aroma-natural/internal/config"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg     config.Config
	db      *pgxpool.Pool
	catalog *catalog.Catalog
	ai      AIClient
}

type AuthUser struct {
	ID    string
	Email string
	Name  string
}

func New(cfg config.Config, pool *pgxpool.Pool, cat *catalog.Catalog) *App {
	return &App{
		cfg:     cfg,
		db:      pool,
		catalog: cat,
		ai:      NewChatCompletionsClient(cfg),
	}
}

// NewWithAIClient swaps the AI backend, used by tests and local development
// without an OpenAI key.
func NewWithAIClient(cfg config.Config, pool *pgxpool.Pool, cat *catalog.Catalog, ai AIClient) *App {
	return &App{
		cfg:     cfg,
		db:      pool,
		catalog: cat,
		ai:      ai,
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)

	// Read paths degrade to anonymous on a missing or invalid token, write
	// paths reject with 401.
	api.POST("/recommendations", a.authOptional(), a.createRecommendation)
	api.GET("/teams", a.authOptional(), a.listTeams)
	api.GET("/teams/:team_id", a.authOptional(), a.getTeamDetail)
	api.POST("/ai/consult", a.authOptional(), a.aiConsult)
	api.POST("/notifications/subscribe", a.authOptional(), a.subscribePush)

	api.GET("/records", a.authRequired(), a.listRecords)
	api.POST("/records", a.authRequired(), a.createRecord)
	api.GET("/records/summary", a.authRequired(), a.getRecordSummary)
	api.GET("/profile", a.authRequired(), a.getProfile)
	api.POST("/profile", a.authRequired(), a.upsertProfile)
	api.GET("/ai/consultations", a.authRequired(), a.listConsultations)
	api.POST("/teams", a.authRequired(), a.createTeam)
	api.POST("/teams/:team_id/join", a.authRequired(), a.joinTeam)
	api.DELETE("/teams/:team_id/join", a.authRequired(), a.leaveTeam)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "aroma-natural-api",
	})
}

func (a *App) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.resolveBearerUser(c)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Set("authUser", user)
		c.Next()
	}
}

func (a *App) authOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) != "" {
			if user, err := a.resolveBearerUser(c); err == nil {
				c.Set("authUser", user)
			}
		}
		c.Next()
	}
}

func (a *App) resolveBearerUser(c *gin.Context) (AuthUser, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return AuthUser{}, errors.New("Bearer token required")
	}
	tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
	if tokenString == "" {
		return AuthUser{}, errors.New("Bearer token required")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return AuthUser{}, errors.New("Invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AuthUser{}, errors.New("Invalid token payload")
	}
	if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
		return AuthUser{}, errors.New("Invalid token audience")
	}
	if a.cfg.JWTIssuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.cfg.JWTIssuer {
			return AuthUser{}, errors.New("Invalid token issuer")
		}
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return AuthUser{}, errors.New("Token subject missing")
	}

	return a.getOrCreateUser(c.Request.Context(), sub, claims)
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id, email, name FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Email, &user.Name)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	email := ""
	if rawEmail, ok := claims["email"].(string); ok {
		email = strings.TrimSpace(rawEmail)
	}
	name := nameFromClaims(claims)
	if name == "" {
		if at := strings.Index(email, "@"); at > 0 {
			name = email[:at]
		} else {
			name = fmt.Sprintf("user-%s", truncate(userID, 8))
		}
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO users (id, email, name, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		userID,
		email,
		name,
	); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{ID: userID, Email: email, Name: name}, nil
}

// nameFromClaims digs a display name out of a Supabase access token. The
// metadata key depends on the auth provider, so try the common ones.
func nameFromClaims(claims jwt.MapClaims) string {
	if rawName, ok := claims["name"].(string); ok && strings.TrimSpace(rawName) != "" {
		return strings.TrimSpace(rawName)
	}
	metadata, ok := claims["user_metadata"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"name", "full_name", "nickname"} {
		if value, ok := metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func startOfUTCDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
