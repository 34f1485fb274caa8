package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID           int       `gorm:"primary_key;autoIncrement" json:"id"`
	Email        string    `gorm:"unique;not null" json:"email"`
	Nickname     string    `gorm:"unique;not null" json:"nickname"`
	PasswordHash string    `gorm:"not null" json:"-"` // json:"-" prevents password from being exposed in API
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	IsAdmin      bool      `gorm:"default:false" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TempRegistration holds a pending signup until the emailed code is confirmed.
type TempRegistration struct {
	ID               int       `gorm:"primary_key;autoIncrement" json:"id"`
	Email            string    `gorm:"not null;index" json:"email"`
	Nickname         string    `gorm:"not null" json:"nickname"`
	RegistrationCode string    `gorm:"not null" json:"-"`
	CodeExpiry       time.Time `json:"code_expiry"`
}

type PasswordReset struct {
	ID         int       `gorm:"primary_key;autoIncrement" json:"id"`
	Email      string    `gorm:"not null;index" json:"email"`
	ResetCode  string    `gorm:"not null" json:"-"`
	CodeExpiry time.Time `json:"code_expiry"`
}

// Student is the upgraded-account record, verified manually by an admin.
type Student struct {
	ID             int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID         int       `gorm:"unique;not null" json:"user_id"`
	CardNumber     string    `gorm:"not null" json:"card_number"`
	IDFrontPath    string    `json:"id_front_path"`
	IDBackPath     string    `json:"id_back_path"`
	Process        string    `gorm:"default:pending;index" json:"process"` // pending | approved | rejected
	AccountBalance int       `gorm:"default:0" json:"account_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type RecipeType struct {
	ID          int    `gorm:"primary_key;autoIncrement" json:"id"`
	Description string `gorm:"unique;not null" json:"description"`
}

type Recipe struct {
	ID     int    `gorm:"primary_key;autoIncrement" json:"id"`
	UserID int    `gorm:"not null;index;uniqueIndex:idx_user_title" json:"user_id"`
	Title  string `gorm:"not null" json:"title"`
	// normalized copy of Title, the per-user uniqueness key
	TitleNormalized string         `gorm:"not null;uniqueIndex:idx_user_title" json:"-"`
	Description     string         `gorm:"type:text" json:"description"`
	PrepTime        int            `gorm:"not null" json:"prep_time"` // minutes
	CookTime        int            `gorm:"not null" json:"cook_time"`
	Servings        int            `gorm:"not null" json:"servings"`
	Difficulty      string         `gorm:"not null" json:"difficulty"`
	IsPublic        bool           `gorm:"default:true" json:"is_public"`
	IsApproved      bool           `gorm:"default:false" json:"is_approved"`
	TypeID          int            `gorm:"not null;index" json:"type_id"`
	ImageURL        string         `json:"image_url"` // cover image public URL
	ViewCount       int            `gorm:"default:0" json:"view_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type Step struct {
	ID           int    `gorm:"primary_key;autoIncrement" json:"id"`
	RecipeID     int    `gorm:"not null;index;uniqueIndex:idx_recipe_position" json:"recipe_id"`
	Position     int    `gorm:"not null;uniqueIndex:idx_recipe_position" json:"position"` // 1-based
	Instructions string `gorm:"type:text;not null" json:"instructions"`
}

// Photo belongs to a Step, or to a Recipe directly when it is the cover.
type Photo struct {
	ID         int    `gorm:"primary_key;autoIncrement" json:"id"`
	StepID     *int   `gorm:"index" json:"step_id,omitempty"`
	RecipeID   *int   `gorm:"index" json:"recipe_id,omitempty"`
	Extension  string `gorm:"not null" json:"extension"`
	URL        string `gorm:"not null" json:"url"`
	StoredPath string `gorm:"not null" json:"-"`
}

// Ingredient is the global catalog entry, deduplicated by NormalizedName.
// Name keeps the casing of the first submission for display.
type Ingredient struct {
	ID             int    `gorm:"primary_key;autoIncrement" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	NormalizedName string `gorm:"unique;not null" json:"-"`
}

type Unit struct {
	ID           int    `gorm:"primary_key;autoIncrement" json:"id"`
	Name         string `gorm:"not null" json:"name"`
	Abbreviation string `gorm:"unique;not null" json:"abbreviation"`
}

type UnitConversion struct {
	ID         int     `gorm:"primary_key;autoIncrement" json:"id"`
	FromUnitID int     `gorm:"not null;index;uniqueIndex:idx_from_to" json:"from_unit_id"`
	ToUnitID   int     `gorm:"not null;uniqueIndex:idx_from_to" json:"to_unit_id"`
	Factor     float64 `gorm:"not null" json:"factor"`
}

// UsedIngredient rows are recreated in full on every recipe upsert; they
// carry no identity across revisions.
type UsedIngredient struct {
	ID           int     `gorm:"primary_key;autoIncrement" json:"id"`
	RecipeID     int     `gorm:"not null;index" json:"recipe_id"`
	IngredientID int     `gorm:"not null;index" json:"ingredient_id"`
	Amount       float64 `gorm:"not null" json:"amount"`
	UnitID       int     `gorm:"not null" json:"unit_id"`
	IsOptional   bool    `gorm:"default:false" json:"is_optional"`
}

type Rating struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID    int       `gorm:"not null;uniqueIndex:idx_user_recipe" json:"user_id"`
	RecipeID  int       `gorm:"not null;index;uniqueIndex:idx_user_recipe" json:"recipe_id"`
	Rating    int       `gorm:"not null" json:"rating"` // 1..5
	Comment   string    `gorm:"type:text" json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
