package ingredients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"recetario/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		panic("failed to connect database")
	}
	db.AutoMigrate(&models.Ingredient{})

	db.Create(&[]models.Ingredient{
		{Name: "Tomato", NormalizedName: "tomato"},
		{Name: "Tofu", NormalizedName: "tofu"},
		{Name: "Basil", NormalizedName: "basil"},
	})
	return db
}

func TestListIngredients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewIngredientsModule(setupTestDB()).RegisterRoutes(router)

	req, _ := http.NewRequest("GET", "/api/ingredients", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var ingredients []models.Ingredient
	json.Unmarshal(w.Body.Bytes(), &ingredients)
	assert.Len(t, ingredients, 3)
	// sorted by normalized name
	assert.Equal(t, "Basil", ingredients[0].Name)
}

func TestListIngredients_PrefixSearch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewIngredientsModule(setupTestDB()).RegisterRoutes(router)

	req, _ := http.NewRequest("GET", "/api/ingredients?search=To", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var ingredients []models.Ingredient
	json.Unmarshal(w.Body.Bytes(), &ingredients)
	assert.Len(t, ingredients, 2)
}
