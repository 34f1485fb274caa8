package recipes

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recetario/auth"
	"recetario/cache"
	"recetario/models"
	"recetario/uploads"
)

const searchCacheMaxAge = 5 * time.Minute

// markdown renderer for recipe descriptions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
	),
)

type RecipesModule struct {
	db      *gorm.DB
	engine  *UpsertEngine
	storage *uploads.Storage
	logger  *zap.Logger
}

func NewRecipesModule(db *gorm.DB, storage *uploads.Storage, logger *zap.Logger) *RecipesModule {
	return &RecipesModule{
		db:      db,
		engine:  NewUpsertEngine(db, logger),
		storage: storage,
		logger:  logger,
	}
}

func (m *RecipesModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/recipes")
	{
		group.GET("", m.listRecipes)
		group.GET("/search", cache.SearchCacheMiddleware(searchCacheMaxAge), m.searchRecipes)
		group.GET("/user/:userId", m.userRecipes)
		group.GET("/:recipeId", m.getRecipe)

		group.POST("", auth.RequireAuth(m.db), m.createRecipe)
		group.PUT("/:recipeId", auth.RequireAuth(m.db), m.updateRecipe)
		group.DELETE("/:recipeId", auth.RequireAuth(m.db), m.deleteRecipe)
	}
}

// createRecipe feeds the upsert engine with a title-resolved submission.
func (m *RecipesModule) createRecipe(c *gin.Context) {
	user := auth.CurrentUser(c)

	payload, verr := m.parsePayload(c)
	if verr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}
	payload.UserID = user.ID

	action := Action(c.DefaultPostForm("action", string(ActionCreate)))

	up, saved, err := m.saveUploads(c, action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m.runUpsert(c, payload, up, saved, action)
}

// updateRecipe pins the upsert to the addressed recipe so its title may
// change. The caller must own the recipe.
func (m *RecipesModule) updateRecipe(c *gin.Context) {
	user := auth.CurrentUser(c)

	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	var recipe models.Recipe
	if err := m.db.First(&recipe, recipeID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		return
	}
	if recipe.UserID != user.ID && !user.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your recipe"})
		return
	}

	payload, verr := m.parsePayload(c)
	if verr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}
	payload.UserID = recipe.UserID
	payload.TargetID = recipe.ID

	action := Action(c.DefaultPostForm("action", string(ActionEdit)))

	up, saved, err := m.saveUploads(c, action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m.runUpsert(c, payload, up, saved, action)
}

// runUpsert executes the engine call and owns both file-cleanup lists: the
// freshly saved uploads on failure, the replaced files on success. Both are
// best-effort and never change the response.
func (m *RecipesModule) runUpsert(c *gin.Context, payload Payload, up Uploads, saved []string, action Action) {
	result, err := m.engine.Upsert(payload, up, action)
	if err != nil {
		m.storage.DeleteAll(saved)

		var verr *ValidationError
		var cerr *ConflictError
		var rerr *ReferenceError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		case errors.As(err, &cerr):
			c.JSON(http.StatusConflict, gin.H{
				"error":       cerr.Error(),
				"existing_id": cerr.ExistingID,
				"options":     cerr.Options,
			})
		case errors.As(err, &rerr):
			status := http.StatusBadRequest
			if rerr.Entity == "recipe" {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": rerr.Error(), "entity": rerr.Entity, "value": rerr.Value})
		default:
			m.logger.Error("recipe upsert failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	m.storage.DeleteAll(result.CleanupOnSuccess)
	if err := cache.ClearSearch(); err != nil {
		m.logger.Warn("failed to clear search cache", zap.Error(err))
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"recipe_id": result.RecipeID, "created": result.Created})
}

// parsePayload reads the multipart form into a Payload, collecting every
// malformed field instead of stopping at the first.
func (m *RecipesModule) parsePayload(c *gin.Context) (Payload, *ValidationError) {
	verr := &ValidationError{}

	payload := Payload{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Difficulty:  c.PostForm("difficulty"),
	}

	payload.PrepTime = parseIntField(c, "prepTime", verr)
	payload.CookTime = parseIntField(c, "cookTime", verr)
	payload.Servings = parseIntField(c, "servings", verr)
	payload.TypeID = parseIntField(c, "typeId", verr)

	isPublic, err := strconv.ParseBool(c.DefaultPostForm("isPublic", "true"))
	if err != nil {
		verr.add("isPublic", "must be a boolean")
	}
	payload.IsPublic = isPublic

	if raw := c.PostForm("steps"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Steps); err != nil {
			verr.add("steps", "must be a JSON array of strings")
		}
	}
	if raw := c.PostForm("ingredients"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Ingredients); err != nil {
			verr.add("ingredients", "must be a JSON array of {name, amount, unit, isOptional}")
		}
	}

	if len(verr.Fields) == 0 {
		return payload, nil
	}

	// form-level problems do not stop the semantic checks; the response
	// names every violation at once, each field reported once
	if more := validatePayload(payload); more != nil {
		seen := make(map[string]bool, len(verr.Fields))
		for _, f := range verr.Fields {
			seen[f.Field] = true
		}
		for _, f := range more.Fields {
			if !seen[f.Field] {
				verr.Fields = append(verr.Fields, f)
			}
		}
	}
	return payload, verr
}

func parseIntField(c *gin.Context, field string, verr *ValidationError) int {
	raw := c.PostForm(field)
	if raw == "" {
		verr.add(field, "required")
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		verr.add(field, "must be a number")
		return 0
	}
	return value
}

// saveUploads persists the cover and step images before the transaction
// begins and reports the stored paths so the caller can undo them on
// failure. Edits leave the current revision's files alone, so nothing is
// saved for them.
func (m *RecipesModule) saveUploads(c *gin.Context, action Action) (Uploads, []string, error) {
	var up Uploads
	var saved []string

	if action == ActionEdit {
		return up, nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		// no multipart body at all is fine: recipes without photos
		return up, nil, nil
	}

	coverFiles := form.File["image"]
	stepFiles := form.File["stepImages"]
	if err := uploads.CheckCount(coverFiles, stepFiles); err != nil {
		return up, nil, err
	}

	if len(coverFiles) > 0 {
		stored, err := m.storage.SaveCover(coverFiles[0])
		if err != nil {
			m.storage.DeleteAll(saved)
			return Uploads{}, nil, err
		}
		up.Cover = stored
		saved = append(saved, stored.Path)
	}

	for _, fh := range stepFiles {
		stored, err := m.storage.Save(fh, uploads.CategorySteps)
		if err != nil {
			m.storage.DeleteAll(saved)
			return Uploads{}, nil, err
		}
		up.StepImages = append(up.StepImages, stored)
		saved = append(saved, stored.Path)
	}

	return up, saved, nil
}

type stepResponse struct {
	Position     int     `json:"position"`
	Instructions string  `json:"instructions"`
	PhotoURL     *string `json:"photo_url,omitempty"`
}

type usedIngredientResponse struct {
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	IsOptional bool    `json:"is_optional"`
}

func (m *RecipesModule) getRecipe(c *gin.Context) {
	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	var recipe models.Recipe
	if err := m.db.First(&recipe, recipeID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		return
	}

	if err := m.db.Model(&recipe).UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error; err != nil {
		m.logger.Warn("failed to bump view count", zap.Int("recipe_id", recipe.ID), zap.Error(err))
	}

	var author models.User
	m.db.First(&author, recipe.UserID)

	var recipeType models.RecipeType
	m.db.First(&recipeType, recipe.TypeID)

	var steps []models.Step
	if err := m.db.Where("recipe_id = ?", recipe.ID).Order("position ASC").Find(&steps).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load steps"})
		return
	}

	stepResponses := make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		sr := stepResponse{Position: step.Position, Instructions: step.Instructions}
		var photo models.Photo
		if err := m.db.Where("step_id = ?", step.ID).First(&photo).Error; err == nil {
			sr.PhotoURL = &photo.URL
		}
		stepResponses = append(stepResponses, sr)
	}

	type usedRow struct {
		Name       string
		Amount     float64
		Unit       string
		IsOptional bool
	}
	var usedRows []usedRow
	err = m.db.Model(&models.UsedIngredient{}).
		Select("ingredients.name AS name, used_ingredients.amount AS amount, units.abbreviation AS unit, used_ingredients.is_optional AS is_optional").
		Joins("JOIN ingredients ON ingredients.id = used_ingredients.ingredient_id").
		Joins("JOIN units ON units.id = used_ingredients.unit_id").
		Where("used_ingredients.recipe_id = ?", recipe.ID).
		Order("used_ingredients.id ASC").
		Scan(&usedRows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ingredients"})
		return
	}
	ingredients := make([]usedIngredientResponse, 0, len(usedRows))
	for _, row := range usedRows {
		ingredients = append(ingredients, usedIngredientResponse(row))
	}

	c.JSON(http.StatusOK, gin.H{
		"recipe":           recipe,
		"author_name":      author.Nickname,
		"type_description": recipeType.Description,
		"description_html": renderMarkdown(recipe.Description),
		"steps":            stepResponses,
		"ingredients":      ingredients,
	})
}

func (m *RecipesModule) listRecipes(c *gin.Context) {
	offset, limit := parsePaging(c)

	var recipes []models.Recipe
	err := m.db.Where("is_public = ?", true).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&recipes).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recipes"})
		return
	}
	c.JSON(http.StatusOK, recipes)
}

func (m *RecipesModule) userRecipes(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var recipes []models.Recipe
	if err := m.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&recipes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recipes"})
		return
	}
	c.JSON(http.StatusOK, recipes)
}

// searchRecipes filters by name, author, type and ingredient inclusion or
// exclusion, with paging and a total count.
func (m *RecipesModule) searchRecipes(c *gin.Context) {
	query := m.db.Model(&models.Recipe{}).
		Select("DISTINCT recipes.*").
		Joins("JOIN users ON users.id = recipes.user_id").
		Where("recipes.is_public = ?", true)

	if name := c.Query("name"); name != "" {
		query = query.Where("recipes.title_normalized LIKE ?", "%"+strings.ToLower(name)+"%")
	}
	if authorName := c.Query("authorName"); authorName != "" {
		query = query.Where("LOWER(users.nickname) LIKE LOWER(?)", "%"+authorName+"%")
	}
	if typeID := c.Query("typeId"); typeID != "" {
		query = query.Where("recipes.type_id = ?", typeID)
	}

	if include := splitCSV(c.Query("includeIngredients")); len(include) > 0 {
		sub := m.db.Model(&models.UsedIngredient{}).
			Select("used_ingredients.recipe_id").
			Joins("JOIN ingredients ON ingredients.id = used_ingredients.ingredient_id")
		for i, ing := range include {
			cond := "ingredients.normalized_name LIKE ?"
			if i == 0 {
				sub = sub.Where(cond, "%"+strings.ToLower(ing)+"%")
			} else {
				sub = sub.Or(cond, "%"+strings.ToLower(ing)+"%")
			}
		}
		query = query.Where("recipes.id IN (?)", sub)
	}

	if exclude := splitCSV(c.Query("excludeIngredients")); len(exclude) > 0 {
		sub := m.db.Model(&models.UsedIngredient{}).
			Select("used_ingredients.recipe_id").
			Joins("JOIN ingredients ON ingredients.id = used_ingredients.ingredient_id")
		for i, ing := range exclude {
			cond := "ingredients.normalized_name LIKE ?"
			if i == 0 {
				sub = sub.Where(cond, "%"+strings.ToLower(ing)+"%")
			} else {
				sub = sub.Or(cond, "%"+strings.ToLower(ing)+"%")
			}
		}
		query = query.Where("recipes.id NOT IN (?)", sub)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Distinct("recipes.id").Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	switch c.DefaultQuery("sort", "newest") {
	case "oldest":
		query = query.Order("recipes.created_at ASC")
	case "name_asc":
		query = query.Order("recipes.title ASC")
	case "name_desc":
		query = query.Order("recipes.title DESC")
	default:
		query = query.Order("recipes.created_at DESC")
	}

	page, limit := parsePageLimit(c)
	var recipes []models.Recipe
	if err := query.Offset((page - 1) * limit).Limit(limit).Find(&recipes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipes": recipes,
		"pagination": gin.H{
			"total":       total,
			"page":        page,
			"limit":       limit,
			"total_pages": int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}

// deleteRecipe soft deletes the recipe and removes its dependent rows; the
// stored files go through the best-effort deletion path afterwards.
func (m *RecipesModule) deleteRecipe(c *gin.Context) {
	user := auth.CurrentUser(c)

	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	var recipe models.Recipe
	if err := m.db.First(&recipe, recipeID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		return
	}
	if recipe.UserID != user.ID && !user.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your recipe"})
		return
	}

	var filePaths []string
	err = m.db.Transaction(func(tx *gorm.DB) error {
		var stepIDs []int
		if err := tx.Model(&models.Step{}).Where("recipe_id = ?", recipe.ID).Pluck("id", &stepIDs).Error; err != nil {
			return err
		}

		var photos []models.Photo
		photoQuery := tx.Where("recipe_id = ?", recipe.ID)
		if len(stepIDs) > 0 {
			photoQuery = photoQuery.Or("step_id IN ?", stepIDs)
		}
		if err := photoQuery.Find(&photos).Error; err != nil {
			return err
		}
		for _, p := range photos {
			filePaths = append(filePaths, p.StoredPath)
		}

		if len(photos) > 0 {
			if err := tx.Delete(&photos).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("recipe_id = ?", recipe.ID).Delete(&models.Step{}).Error; err != nil {
			return err
		}
		if err := tx.Where("recipe_id = ?", recipe.ID).Delete(&models.UsedIngredient{}).Error; err != nil {
			return err
		}

		// free the (user, title) uniqueness key for future recipes before
		// soft deleting
		freed := recipe.TitleNormalized + "#deleted-" + strconv.Itoa(recipe.ID)
		if err := tx.Model(&recipe).UpdateColumn("title_normalized", freed).Error; err != nil {
			return err
		}
		return tx.Delete(&recipe).Error
	})
	if err != nil {
		m.logger.Error("recipe delete failed", zap.Int("recipe_id", recipe.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete recipe"})
		return
	}

	m.storage.DeleteAll(filePaths)
	if err := cache.ClearSearch(); err != nil {
		m.logger.Warn("failed to clear search cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func parsePaging(c *gin.Context) (offset, limit int) {
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit, err = strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	return offset, limit
}

func parsePageLimit(c *gin.Context) (page, limit int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	return page, limit
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return buf.String()
}
