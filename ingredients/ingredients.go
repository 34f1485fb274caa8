package ingredients

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"recetario/models"
)

// IngredientsModule exposes the global, deduplicated ingredient catalog.
// Writes happen only through the recipe upsert engine.
type IngredientsModule struct {
	db *gorm.DB
}

func NewIngredientsModule(db *gorm.DB) *IngredientsModule {
	return &IngredientsModule{db: db}
}

func (m *IngredientsModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/ingredients", m.list)
}

func (m *IngredientsModule) list(c *gin.Context) {
	query := m.db.Model(&models.Ingredient{}).Order("normalized_name ASC")

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		query = query.Where("normalized_name LIKE ?", strings.ToLower(search)+"%")
	}

	var ingredients []models.Ingredient
	if err := query.Limit(100).Find(&ingredients).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ingredients"})
		return
	}
	if ingredients == nil {
		ingredients = []models.Ingredient{}
	}
	c.JSON(http.StatusOK, ingredients)
}
