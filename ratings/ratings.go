package ratings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recetario/auth"
	"recetario/models"
)

type RatingsModule struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRatingsModule(db *gorm.DB, logger *zap.Logger) *RatingsModule {
	return &RatingsModule{db: db, logger: logger}
}

func (m *RatingsModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/recipes/:recipeId/ratings")
	{
		group.GET("", m.list)
		group.GET("/average", m.average)

		group.POST("", auth.RequireAuth(m.db), m.create)
		group.GET("/me", auth.RequireAuth(m.db), m.mine)
	}
}

type createRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// create adds one rating per user per recipe. Rating your own recipe is not
// allowed.
func (m *RatingsModule) create(c *gin.Context) {
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
	if recipe.UserID == user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot rate your own recipe"})
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be between 1 and 5"})
		return
	}

	rating := models.Rating{
		UserID:   user.ID,
		RecipeID: recipeID,
		Rating:   req.Rating,
		Comment:  req.Comment,
	}
	if err := m.db.Create(&rating).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "you have already rated this recipe"})
			return
		}
		m.logger.Error("failed to create rating", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rating"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rating_id": rating.ID})
}

func (m *RatingsModule) list(c *gin.Context) {
	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	type ratingRow struct {
		models.Rating
		Nickname string `json:"nickname"`
	}
	var rows []ratingRow
	err = m.db.Model(&models.Rating{}).
		Select("ratings.*, users.nickname AS nickname").
		Joins("JOIN users ON users.id = ratings.user_id").
		Where("ratings.recipe_id = ?", recipeID).
		Order("ratings.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ratings"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (m *RatingsModule) average(c *gin.Context) {
	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	type avgRow struct {
		Average float64
		Total   int64
	}
	var row avgRow
	err = m.db.Model(&models.Rating{}).
		Select("COALESCE(AVG(rating), 0) AS average, COUNT(*) AS total").
		Where("recipe_id = ?", recipeID).
		Scan(&row).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load average"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"average_rating": row.Average, "total_ratings": row.Total})
}

// mine reports whether the caller already rated this recipe.
func (m *RatingsModule) mine(c *gin.Context) {
	user := auth.CurrentUser(c)

	recipeID, err := strconv.Atoi(c.Param("recipeId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}

	var rating models.Rating
	err = m.db.Where("user_id = ? AND recipe_id = ?", user.ID, recipeID).First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"has_rated": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rating"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_rated": true, "rating": rating})
}
