package recipes

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"recetario/models"
	"recetario/uploads"
)

// Action is the caller's intent for an upsert. The engine re-decides the
// actual branch after the conflict lookup.
type Action string

const (
	ActionCreate  Action = "create"
	ActionReplace Action = "replace"
	ActionEdit    Action = "edit"
)

// IngredientLine is one submitted ingredient entry. Unit must match an
// existing unit abbreviation exactly.
type IngredientLine struct {
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	IsOptional bool    `json:"isOptional"`
}

// Payload is the full recipe submission. TargetID is zero for title-resolved
// upserts (POST); PUT handlers set it to pin the addressed recipe so the
// title may change without the engine treating it as a new recipe.
type Payload struct {
	UserID      int
	TargetID    int
	Title       string
	Description string
	Steps       []string
	PrepTime    int
	CookTime    int
	Servings    int
	Difficulty  string
	IsPublic    bool
	TypeID      int
	Ingredients []IngredientLine
}

// Uploads carries already-stored files. The engine never touches the
// filesystem itself; it only records which stored files became garbage.
type Uploads struct {
	Cover      *uploads.StoredFile
	StepImages []*uploads.StoredFile // Nth image attaches to Nth step
}

// Result reports the committed upsert. CleanupOnSuccess lists stored file
// paths made obsolete by the commit (replaced step photos, old cover); the
// caller deletes them best-effort after the transaction outcome is known.
type Result struct {
	RecipeID         int      `json:"recipe_id"`
	Created          bool     `json:"created"`
	CleanupOnSuccess []string `json:"-"`
}

type decisionKind int

const (
	createNew decisionKind = iota
	replaceExisting
	editExisting
)

// decision is the engine's resolved branch: the caller-supplied action is
// only an intent signal, the branch is decided against the conflict lookup.
type decision struct {
	kind     decisionKind
	existing *models.Recipe
}

// UpsertEngine owns the recipe write path: validation, conflict resolution,
// ingredient reconciliation and the atomic persistence of a submission.
type UpsertEngine struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUpsertEngine(db *gorm.DB, logger *zap.Logger) *UpsertEngine {
	return &UpsertEngine{db: db, logger: logger}
}

// Upsert turns one recipe submission into consistent Recipe, Step, Photo,
// Ingredient and UsedIngredient rows inside a single transaction.
//
// Returns *ValidationError, *ConflictError or *ReferenceError for caller
// faults; any other error is a storage failure. On every non-nil error the
// database is untouched.
func (e *UpsertEngine) Upsert(payload Payload, up Uploads, action Action) (*Result, error) {
	if action == "" {
		action = ActionCreate
	}

	if verr := validatePayload(payload); verr != nil {
		return nil, verr
	}

	// reference check performed before the transaction: fail with zero
	// side effects
	var recipeType models.RecipeType
	if err := e.db.First(&recipeType, payload.TypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ReferenceError{Entity: "recipe type", Value: fmt.Sprint(payload.TypeID)}
		}
		return nil, fmt.Errorf("looking up recipe type: %w", err)
	}

	dec, err := e.decide(payload, action)
	if err != nil {
		return nil, err
	}

	result := &Result{Created: dec.kind == createNew}
	err = e.db.Transaction(func(tx *gorm.DB) error {
		recipeID, err := e.writeRecipe(tx, payload, dec, up, result)
		if err != nil {
			return err
		}
		result.RecipeID = recipeID

		if dec.kind != editExisting {
			if err := e.writeSteps(tx, recipeID, payload.Steps, up.StepImages); err != nil {
				return err
			}
		}

		return e.reconcileIngredients(tx, recipeID, payload.Ingredients)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decide performs the conflict lookup and maps the caller intent onto the
// actual branch.
func (e *UpsertEngine) decide(payload Payload, action Action) (decision, error) {
	var existing models.Recipe

	if payload.TargetID != 0 {
		if err := e.db.First(&existing, payload.TargetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return decision{}, &ReferenceError{Entity: "recipe", Value: fmt.Sprint(payload.TargetID)}
			}
			return decision{}, fmt.Errorf("looking up recipe: %w", err)
		}
		if action == ActionReplace {
			return decision{kind: replaceExisting, existing: &existing}, nil
		}
		return decision{kind: editExisting, existing: &existing}, nil
	}

	err := e.db.
		Where("user_id = ? AND title_normalized = ?", payload.UserID, normalizeTitle(payload.Title)).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// no conflict: a fresh create regardless of the requested action
		return decision{kind: createNew}, nil
	}
	if err != nil {
		return decision{}, fmt.Errorf("conflict lookup: %w", err)
	}

	switch action {
	case ActionReplace:
		return decision{kind: replaceExisting, existing: &existing}, nil
	case ActionEdit:
		return decision{kind: editExisting, existing: &existing}, nil
	default:
		return decision{}, &ConflictError{
			ExistingID: existing.ID,
			Options:    []Action{ActionReplace, ActionEdit},
		}
	}
}

// writeRecipe creates or updates the Recipe row and, for replace, clears the
// previous revision's dependent rows, staging their files for cleanup.
func (e *UpsertEngine) writeRecipe(tx *gorm.DB, payload Payload, dec decision, up Uploads, result *Result) (int, error) {
	switch dec.kind {
	case createNew:
		recipe := models.Recipe{
			UserID:          payload.UserID,
			Title:           strings.TrimSpace(payload.Title),
			TitleNormalized: normalizeTitle(payload.Title),
			Description:     payload.Description,
			PrepTime:        payload.PrepTime,
			CookTime:        payload.CookTime,
			Servings:        payload.Servings,
			Difficulty:      payload.Difficulty,
			IsPublic:        payload.IsPublic,
			TypeID:          payload.TypeID,
		}
		if up.Cover != nil {
			recipe.ImageURL = up.Cover.URL
		}
		if err := tx.Create(&recipe).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// lost the (user, title) race to a concurrent create
				return 0, e.conflictFor(tx, payload)
			}
			return 0, fmt.Errorf("creating recipe: %w", err)
		}
		if up.Cover != nil {
			if err := e.writeCoverPhoto(tx, recipe.ID, up.Cover); err != nil {
				return 0, err
			}
		}
		return recipe.ID, nil

	case replaceExisting:
		if err := e.clearRevision(tx, dec.existing, up.Cover != nil, result); err != nil {
			return 0, err
		}
		updates := e.scalarUpdates(payload)
		if up.Cover != nil {
			updates["image_url"] = up.Cover.URL
		}
		if err := tx.Model(&models.Recipe{}).Where("id = ?", dec.existing.ID).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, e.conflictFor(tx, payload)
			}
			return 0, fmt.Errorf("updating recipe: %w", err)
		}
		if up.Cover != nil {
			if err := e.writeCoverPhoto(tx, dec.existing.ID, up.Cover); err != nil {
				return 0, err
			}
		}
		return dec.existing.ID, nil

	case editExisting:
		// scalars in place; steps and photos keep the current revision,
		// ingredient rows are still fully replaced below
		if err := tx.Where("recipe_id = ?", dec.existing.ID).Delete(&models.UsedIngredient{}).Error; err != nil {
			return 0, fmt.Errorf("clearing used ingredients: %w", err)
		}
		if err := tx.Model(&models.Recipe{}).Where("id = ?", dec.existing.ID).Updates(e.scalarUpdates(payload)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, e.conflictFor(tx, payload)
			}
			return 0, fmt.Errorf("updating recipe: %w", err)
		}
		return dec.existing.ID, nil
	}
	return 0, fmt.Errorf("unknown upsert decision %d", dec.kind)
}

func (e *UpsertEngine) scalarUpdates(payload Payload) map[string]interface{} {
	return map[string]interface{}{
		"title":            strings.TrimSpace(payload.Title),
		"title_normalized": normalizeTitle(payload.Title),
		"description":      payload.Description,
		"prep_time":        payload.PrepTime,
		"cook_time":        payload.CookTime,
		"servings":         payload.Servings,
		"difficulty":       payload.Difficulty,
		"is_public":        payload.IsPublic,
		"type_id":          payload.TypeID,
	}
}

// conflictFor re-queries the winner of a (user, title) uniqueness race so
// the caller gets a usable conflict payload. Runs on the transaction
// connection: the winner committed before our insert failed, so it is
// visible there.
func (e *UpsertEngine) conflictFor(tx *gorm.DB, payload Payload) error {
	var winner models.Recipe
	err := tx.
		Where("user_id = ? AND title_normalized = ?", payload.UserID, normalizeTitle(payload.Title)).
		First(&winner).Error
	if err != nil {
		return fmt.Errorf("recipe title already taken but winner not found: %w", err)
	}
	return &ConflictError{ExistingID: winner.ID, Options: []Action{ActionReplace, ActionEdit}}
}

// clearRevision deletes the previous revision's used ingredients, steps and
// photos, staging every removed file for post-commit deletion. The old cover
// is only cleared when a replacement was uploaded.
func (e *UpsertEngine) clearRevision(tx *gorm.DB, existing *models.Recipe, newCover bool, result *Result) error {
	if err := tx.Where("recipe_id = ?", existing.ID).Delete(&models.UsedIngredient{}).Error; err != nil {
		return fmt.Errorf("clearing used ingredients: %w", err)
	}

	var stepIDs []int
	if err := tx.Model(&models.Step{}).Where("recipe_id = ?", existing.ID).Pluck("id", &stepIDs).Error; err != nil {
		return fmt.Errorf("listing steps: %w", err)
	}

	if len(stepIDs) > 0 {
		var photos []models.Photo
		if err := tx.Where("step_id IN ?", stepIDs).Find(&photos).Error; err != nil {
			return fmt.Errorf("listing step photos: %w", err)
		}
		for _, p := range photos {
			result.CleanupOnSuccess = append(result.CleanupOnSuccess, p.StoredPath)
		}
		if err := tx.Where("step_id IN ?", stepIDs).Delete(&models.Photo{}).Error; err != nil {
			return fmt.Errorf("deleting step photos: %w", err)
		}
		if err := tx.Where("recipe_id = ?", existing.ID).Delete(&models.Step{}).Error; err != nil {
			return fmt.Errorf("deleting steps: %w", err)
		}
	}

	if newCover {
		var cover models.Photo
		err := tx.Where("recipe_id = ?", existing.ID).First(&cover).Error
		switch {
		case err == nil:
			result.CleanupOnSuccess = append(result.CleanupOnSuccess, cover.StoredPath)
			if err := tx.Delete(&cover).Error; err != nil {
				return fmt.Errorf("deleting old cover: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("looking up old cover: %w", err)
		}
	}
	return nil
}

// writeSteps inserts the submitted steps in order with 1-based positions,
// attaching the Nth uploaded step image to the Nth step.
func (e *UpsertEngine) writeSteps(tx *gorm.DB, recipeID int, stepTexts []string, images []*uploads.StoredFile) error {
	for i, text := range stepTexts {
		step := models.Step{
			RecipeID:     recipeID,
			Position:     i + 1,
			Instructions: strings.TrimSpace(text),
		}
		if err := tx.Create(&step).Error; err != nil {
			return fmt.Errorf("creating step %d: %w", i+1, err)
		}

		if i < len(images) && images[i] != nil {
			photo := models.Photo{
				StepID:     &step.ID,
				Extension:  images[i].Extension,
				URL:        images[i].URL,
				StoredPath: images[i].Path,
			}
			if err := tx.Create(&photo).Error; err != nil {
				return fmt.Errorf("creating photo for step %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func (e *UpsertEngine) writeCoverPhoto(tx *gorm.DB, recipeID int, cover *uploads.StoredFile) error {
	photo := models.Photo{
		RecipeID:   &recipeID,
		Extension:  cover.Extension,
		URL:        cover.URL,
		StoredPath: cover.Path,
	}
	if err := tx.Create(&photo).Error; err != nil {
		return fmt.Errorf("creating cover photo: %w", err)
	}
	return nil
}

// reconcileIngredients resolves every submitted line against the global
// catalog in payload order and links it to the recipe. A unit that resolves
// to nothing fails the whole transaction.
func (e *UpsertEngine) reconcileIngredients(tx *gorm.DB, recipeID int, lines []IngredientLine) error {
	for _, line := range lines {
		var unit models.Unit
		err := tx.Where("abbreviation = ?", strings.TrimSpace(line.Unit)).First(&unit).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ReferenceError{Entity: "unit", Value: line.Unit}
		}
		if err != nil {
			return fmt.Errorf("resolving unit %q: %w", line.Unit, err)
		}

		ingredient, err := e.findOrCreateIngredient(tx, line.Name)
		if err != nil {
			return err
		}

		used := models.UsedIngredient{
			RecipeID:     recipeID,
			IngredientID: ingredient.ID,
			Amount:       line.Amount,
			UnitID:       unit.ID,
			IsOptional:   line.IsOptional,
		}
		if err := tx.Create(&used).Error; err != nil {
			return fmt.Errorf("linking ingredient %q: %w", line.Name, err)
		}
	}
	return nil
}

// findOrCreateIngredient resolves a name against the catalog by its
// normalized form, inserting a new entry with the original casing when
// unseen. A uniqueness violation on insert means a concurrent request won
// the same name; the winner's row is used instead of failing.
func (e *UpsertEngine) findOrCreateIngredient(tx *gorm.DB, name string) (*models.Ingredient, error) {
	normalized := normalizeIngredientName(name)

	var ingredient models.Ingredient
	err := tx.Where("normalized_name = ?", normalized).First(&ingredient).Error
	if err == nil {
		return &ingredient, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up ingredient %q: %w", name, err)
	}

	ingredient = models.Ingredient{
		Name:           strings.TrimSpace(name),
		NormalizedName: normalized,
	}
	err = tx.Create(&ingredient).Error
	if err == nil {
		return &ingredient, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("creating ingredient %q: %w", name, err)
	}

	e.logger.Info("lost ingredient insert race, reusing winner", zap.String("name", normalized))
	if err := tx.Where("normalized_name = ?", normalized).First(&ingredient).Error; err != nil {
		return nil, fmt.Errorf("re-reading ingredient %q after race: %w", name, err)
	}
	return &ingredient, nil
}

// validatePayload collects every violation before failing, so one response
// names all offending fields including per-ingredient-line problems.
func validatePayload(payload Payload) *ValidationError {
	verr := &ValidationError{}

	if strings.TrimSpace(payload.Title) == "" {
		verr.add("title", "required")
	}
	if strings.TrimSpace(payload.Description) == "" {
		verr.add("description", "required")
	}
	if len(payload.Steps) == 0 {
		verr.add("steps", "at least one step is required")
	}
	for i, s := range payload.Steps {
		if strings.TrimSpace(s) == "" {
			verr.add(fmt.Sprintf("steps[%d]", i), "must not be empty")
		}
	}
	if payload.PrepTime < 0 {
		verr.add("prepTime", "must not be negative")
	}
	if payload.CookTime < 0 {
		verr.add("cookTime", "must not be negative")
	}
	if payload.Servings <= 0 {
		verr.add("servings", "must be positive")
	}
	if strings.TrimSpace(payload.Difficulty) == "" {
		verr.add("difficulty", "required")
	}
	if payload.TypeID <= 0 {
		verr.add("typeId", "required")
	}

	for i, line := range payload.Ingredients {
		var problems []string
		if strings.TrimSpace(line.Name) == "" {
			problems = append(problems, "name is required")
		}
		if line.Amount <= 0 {
			problems = append(problems, "amount must be a positive number")
		}
		if strings.TrimSpace(line.Unit) == "" {
			problems = append(problems, "unit is required")
		}
		if len(problems) > 0 {
			field := fmt.Sprintf("ingredients[%d]", i)
			if n := strings.TrimSpace(line.Name); n != "" {
				field = fmt.Sprintf("ingredients[%d] (%s)", i, n)
			}
			verr.add(field, strings.Join(problems, ", "))
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func normalizeIngredientName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
