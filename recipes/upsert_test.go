package recipes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"recetario/models"
	"recetario/uploads"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(
		&models.User{}, &models.RecipeType{}, &models.Recipe{}, &models.Step{},
		&models.Photo{}, &models.Ingredient{}, &models.Unit{}, &models.UsedIngredient{},
	)

	db.Create(&[]models.Unit{
		{Name: "gram", Abbreviation: "g"},
		{Name: "tablespoon", Abbreviation: "tbsp"},
		{Name: "piece", Abbreviation: "pc"},
	})
	db.Create(&models.RecipeType{Description: "Main course"})
	return db
}

func createTestUser(db *gorm.DB, email, nickname string) *models.User {
	user := &models.User{
		Email:        email,
		Nickname:     nickname,
		PasswordHash: "hashedpassword",
	}
	db.Create(user)
	return user
}

func validPayload(userID int) Payload {
	return Payload{
		UserID:      userID,
		Title:       "Pasta",
		Description: "A simple pasta dish",
		Steps:       []string{"Boil water", "Cook pasta", "Serve"},
		PrepTime:    10,
		CookTime:    15,
		Servings:    2,
		Difficulty:  "easy",
		IsPublic:    true,
		TypeID:      1,
		Ingredients: []IngredientLine{
			{Name: "Spaghetti", Amount: 200, Unit: "g"},
			{Name: "Olive Oil", Amount: 2, Unit: "tbsp", IsOptional: true},
		},
	}
}

func newTestEngine(db *gorm.DB) *UpsertEngine {
	return NewUpsertEngine(db, zap.NewNop())
}

func TestUpsertCreatesAllRows(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	up := Uploads{
		Cover: &uploads.StoredFile{Path: "uploads/recipes/cover.jpg", URL: "/uploads/recipes/cover.jpg", Extension: "jpg"},
		StepImages: []*uploads.StoredFile{
			{Path: "uploads/steps/one.jpg", URL: "/uploads/steps/one.jpg", Extension: "jpg"},
		},
	}

	result, err := engine.Upsert(validPayload(user.ID), up, ActionCreate)

	assert.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotZero(t, result.RecipeID)
	assert.Empty(t, result.CleanupOnSuccess)

	var recipe models.Recipe
	assert.NoError(t, db.First(&recipe, result.RecipeID).Error)
	assert.Equal(t, "Pasta", recipe.Title)
	assert.Equal(t, "pasta", recipe.TitleNormalized)
	assert.Equal(t, "/uploads/recipes/cover.jpg", recipe.ImageURL)

	var steps []models.Step
	db.Where("recipe_id = ?", recipe.ID).Order("position ASC").Find(&steps)
	assert.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].Position)
	assert.Equal(t, "Boil water", steps[0].Instructions)
	assert.Equal(t, 3, steps[2].Position)

	// first step has a photo, the others do not
	var photoCount int64
	db.Model(&models.Photo{}).Where("step_id = ?", steps[0].ID).Count(&photoCount)
	assert.Equal(t, int64(1), photoCount)
	db.Model(&models.Photo{}).Where("step_id = ?", steps[1].ID).Count(&photoCount)
	assert.Equal(t, int64(0), photoCount)

	var used []models.UsedIngredient
	db.Where("recipe_id = ?", recipe.ID).Find(&used)
	assert.Len(t, used, 2)
	assert.True(t, used[1].IsOptional)

	var ingredients []models.Ingredient
	db.Find(&ingredients)
	assert.Len(t, ingredients, 2)
}

func TestUpsertReusesIngredientCatalog(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	alice := createTestUser(db, "alice@example.com", "alice")
	bob := createTestUser(db, "bob@example.com", "bob")

	first := validPayload(alice.ID)
	first.Ingredients = []IngredientLine{{Name: "Tomato", Amount: 3, Unit: "pc"}}
	_, err := engine.Upsert(first, Uploads{}, ActionCreate)
	assert.NoError(t, err)

	second := validPayload(bob.ID)
	second.Title = "Tomato Soup"
	second.Ingredients = []IngredientLine{{Name: "  tomato ", Amount: 5, Unit: "pc"}}
	_, err = engine.Upsert(second, Uploads{}, ActionCreate)
	assert.NoError(t, err)

	var count int64
	db.Model(&models.Ingredient{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// the catalog keeps the first-ever-submitted casing
	var ingredient models.Ingredient
	db.First(&ingredient)
	assert.Equal(t, "Tomato", ingredient.Name)
	assert.Equal(t, "tomato", ingredient.NormalizedName)
}

func TestUpsertConflictOnCreate(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	result, err := engine.Upsert(validPayload(user.ID), Uploads{}, ActionCreate)
	assert.NoError(t, err)

	colliding := validPayload(user.ID)
	colliding.Title = "PASTA"
	_, err = engine.Upsert(colliding, Uploads{}, ActionCreate)

	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, result.RecipeID, cerr.ExistingID)
	assert.Equal(t, []Action{ActionReplace, ActionEdit}, cerr.Options)

	// nothing was modified
	var recipeCount, stepCount int64
	db.Model(&models.Recipe{}).Count(&recipeCount)
	db.Model(&models.Step{}).Count(&stepCount)
	assert.Equal(t, int64(1), recipeCount)
	assert.Equal(t, int64(3), stepCount)
}

func TestUpsertConflictAllowsOtherUsers(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	alice := createTestUser(db, "alice@example.com", "alice")
	bob := createTestUser(db, "bob@example.com", "bob")

	_, err := engine.Upsert(validPayload(alice.ID), Uploads{}, ActionCreate)
	assert.NoError(t, err)

	_, err = engine.Upsert(validPayload(bob.ID), Uploads{}, ActionCreate)
	assert.NoError(t, err)
}

func TestUpsertReplaceSwapsStepsAndIngredients(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	up := Uploads{
		StepImages: []*uploads.StoredFile{
			{Path: "uploads/steps/old.jpg", URL: "/uploads/steps/old.jpg", Extension: "jpg"},
		},
	}
	first, err := engine.Upsert(validPayload(user.ID), up, ActionCreate)
	assert.NoError(t, err)

	replacement := validPayload(user.ID)
	replacement.Title = "pasta" // case-insensitive match
	replacement.Steps = []string{"New step"}
	replacement.Ingredients = []IngredientLine{{Name: "Butter", Amount: 50, Unit: "g"}}

	result, err := engine.Upsert(replacement, Uploads{}, ActionReplace)
	assert.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, first.RecipeID, result.RecipeID)
	assert.Contains(t, result.CleanupOnSuccess, "uploads/steps/old.jpg")

	var steps []models.Step
	db.Where("recipe_id = ?", result.RecipeID).Find(&steps)
	assert.Len(t, steps, 1)
	assert.Equal(t, "New step", steps[0].Instructions)

	// previously linked ingredients are no longer associated
	type usedName struct{ Name string }
	var names []usedName
	db.Model(&models.UsedIngredient{}).
		Select("ingredients.name AS name").
		Joins("JOIN ingredients ON ingredients.id = used_ingredients.ingredient_id").
		Where("used_ingredients.recipe_id = ?", result.RecipeID).
		Scan(&names)
	assert.Len(t, names, 1)
	assert.Equal(t, "Butter", names[0].Name)

	// the catalog itself never shrinks
	var catalog int64
	db.Model(&models.Ingredient{}).Count(&catalog)
	assert.Equal(t, int64(3), catalog)
}

func TestUpsertEditKeepsStepsReplacesIngredients(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	first, err := engine.Upsert(validPayload(user.ID), Uploads{}, ActionCreate)
	assert.NoError(t, err)

	edit := validPayload(user.ID)
	edit.Servings = 6
	edit.Ingredients = []IngredientLine{{Name: "Spaghetti", Amount: 500, Unit: "g"}}

	result, err := engine.Upsert(edit, Uploads{}, ActionEdit)
	assert.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, first.RecipeID, result.RecipeID)

	var recipe models.Recipe
	db.First(&recipe, result.RecipeID)
	assert.Equal(t, 6, recipe.Servings)

	var stepCount, usedCount int64
	db.Model(&models.Step{}).Where("recipe_id = ?", result.RecipeID).Count(&stepCount)
	assert.Equal(t, int64(3), stepCount)
	db.Model(&models.UsedIngredient{}).Where("recipe_id = ?", result.RecipeID).Count(&usedCount)
	assert.Equal(t, int64(1), usedCount)
}

func TestUpsertValidationNegativeAmount(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	payload := validPayload(user.ID)
	payload.Ingredients = []IngredientLine{{Name: "Flour", Amount: -1, Unit: "g"}}

	_, err := engine.Upsert(payload, Uploads{}, ActionCreate)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "Flour")

	var recipeCount int64
	db.Model(&models.Recipe{}).Count(&recipeCount)
	assert.Equal(t, int64(0), recipeCount)
}

func TestUpsertCollectsAllViolations(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)

	payload := Payload{
		UserID: 1,
		Ingredients: []IngredientLine{
			{Name: "", Amount: 0, Unit: ""},
			{Name: "Sugar", Amount: 10, Unit: "g"},
		},
	}

	_, err := engine.Upsert(payload, Uploads{}, ActionCreate)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	fields := make(map[string]string)
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "steps")
	assert.Contains(t, fields, "servings")
	assert.Contains(t, fields, "typeId")
	// the empty line reports every missing field at once
	assert.Contains(t, fields["ingredients[0]"], "name is required")
	assert.Contains(t, fields["ingredients[0]"], "amount must be a positive number")
	assert.Contains(t, fields["ingredients[0]"], "unit is required")
	// the valid line reports nothing
	assert.NotContains(t, fields, "ingredients[1] (Sugar)")
}

func TestUpsertUnknownUnitRollsBackEverything(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	payload := validPayload(user.ID)
	payload.Ingredients = []IngredientLine{
		{Name: "Spaghetti", Amount: 200, Unit: "g"}, // resolves fine
		{Name: "Mystery", Amount: 1, Unit: "bogus"}, // does not
	}

	_, err := engine.Upsert(payload, Uploads{}, ActionCreate)

	var rerr *ReferenceError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "unit", rerr.Entity)
	assert.Equal(t, "bogus", rerr.Value)

	// the prior successfully matched ingredient must not remain persisted
	var recipeCount, usedCount, ingredientCount int64
	db.Model(&models.Recipe{}).Count(&recipeCount)
	db.Model(&models.UsedIngredient{}).Count(&usedCount)
	db.Model(&models.Ingredient{}).Count(&ingredientCount)
	assert.Equal(t, int64(0), recipeCount)
	assert.Equal(t, int64(0), usedCount)
	assert.Equal(t, int64(0), ingredientCount)
}

func TestUpsertUnknownRecipeType(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	payload := validPayload(user.ID)
	payload.TypeID = 99

	_, err := engine.Upsert(payload, Uploads{}, ActionCreate)

	var rerr *ReferenceError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "recipe type", rerr.Entity)
}

func TestUpsertReplaceWithNewCoverStagesOldOne(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	oldCover := &uploads.StoredFile{Path: "uploads/recipes/old.jpg", URL: "/uploads/recipes/old.jpg", Extension: "jpg"}
	_, err := engine.Upsert(validPayload(user.ID), Uploads{Cover: oldCover}, ActionCreate)
	assert.NoError(t, err)

	newCover := &uploads.StoredFile{Path: "uploads/recipes/new.jpg", URL: "/uploads/recipes/new.jpg", Extension: "jpg"}
	result, err := engine.Upsert(validPayload(user.ID), Uploads{Cover: newCover}, ActionReplace)
	assert.NoError(t, err)
	assert.Contains(t, result.CleanupOnSuccess, "uploads/recipes/old.jpg")

	var recipe models.Recipe
	db.First(&recipe, result.RecipeID)
	assert.Equal(t, "/uploads/recipes/new.jpg", recipe.ImageURL)

	// exactly one cover photo row remains
	var coverCount int64
	db.Model(&models.Photo{}).Where("recipe_id = ?", result.RecipeID).Count(&coverCount)
	assert.Equal(t, int64(1), coverCount)
}

func TestUpsertTargetIDAllowsRename(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	first, err := engine.Upsert(validPayload(user.ID), Uploads{}, ActionCreate)
	assert.NoError(t, err)

	renamed := validPayload(user.ID)
	renamed.TargetID = first.RecipeID
	renamed.Title = "Carbonara"

	result, err := engine.Upsert(renamed, Uploads{}, ActionEdit)
	assert.NoError(t, err)
	assert.Equal(t, first.RecipeID, result.RecipeID)

	var recipe models.Recipe
	db.First(&recipe, result.RecipeID)
	assert.Equal(t, "Carbonara", recipe.Title)
	assert.Equal(t, "carbonara", recipe.TitleNormalized)
}

// plantBeforeCreate registers a one-shot create hook that inserts a
// competing row on the transaction connection right before the engine's own
// insert, forcing the duplicate-key recovery path.
func plantBeforeCreate[T any](db *gorm.DB, name string, plant func(tx *gorm.DB)) {
	done := false
	db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if done {
			return
		}
		if _, ok := tx.Statement.Dest.(*T); !ok {
			return
		}
		done = true
		plant(tx.Session(&gorm.Session{NewDB: true}))
	})
}

func TestUpsertIngredientInsertRaceReusesWinner(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	var winner models.Ingredient
	plantBeforeCreate[models.Ingredient](db, "plant_duplicate_ingredient", func(tx *gorm.DB) {
		winner = models.Ingredient{Name: "Tomato", NormalizedName: "tomato"}
		tx.Create(&winner)
	})

	payload := validPayload(user.ID)
	payload.Ingredients = []IngredientLine{{Name: "tomato", Amount: 2, Unit: "pc"}}

	result, err := engine.Upsert(payload, Uploads{}, ActionCreate)
	assert.NoError(t, err)

	// the loser links the winner's row instead of failing the transaction
	var used models.UsedIngredient
	assert.NoError(t, db.Where("recipe_id = ?", result.RecipeID).First(&used).Error)
	assert.Equal(t, winner.ID, used.IngredientID)

	var count int64
	db.Model(&models.Ingredient{}).Count(&count)
	assert.Equal(t, int64(1), count)

	var ingredient models.Ingredient
	db.First(&ingredient)
	assert.Equal(t, "Tomato", ingredient.Name)
}

func TestUpsertTitleInsertRaceReturnsConflict(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	var winner models.Recipe
	plantBeforeCreate[models.Recipe](db, "plant_duplicate_title", func(tx *gorm.DB) {
		winner = models.Recipe{
			UserID:          user.ID,
			Title:           "Pasta",
			TitleNormalized: "pasta",
			Description:     "got there first",
			PrepTime:        5,
			CookTime:        5,
			Servings:        1,
			Difficulty:      "easy",
			TypeID:          1,
		}
		tx.Create(&winner)
	})

	_, err := engine.Upsert(validPayload(user.ID), Uploads{}, ActionCreate)

	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, winner.ID, cerr.ExistingID)
	assert.Equal(t, []Action{ActionReplace, ActionEdit}, cerr.Options)

	// the loser's transaction wrote nothing
	var stepCount, usedCount int64
	db.Model(&models.Step{}).Count(&stepCount)
	db.Model(&models.UsedIngredient{}).Count(&usedCount)
	assert.Equal(t, int64(0), stepCount)
	assert.Equal(t, int64(0), usedCount)
}

func TestUpsertDefaultActionIsCreate(t *testing.T) {
	db := setupTestDB()
	engine := newTestEngine(db)
	user := createTestUser(db, "cook@example.com", "cook")

	_, err := engine.Upsert(validPayload(user.ID), Uploads{}, "")
	assert.NoError(t, err)

	_, err = engine.Upsert(validPayload(user.ID), Uploads{}, "")
	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
}
