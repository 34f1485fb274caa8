package database

import (
	"fmt"

	"recetario/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.TempRegistration{},
		&models.PasswordReset{},
		&models.Student{},
		&models.RecipeType{},
		&models.Recipe{},
		&models.Step{},
		&models.Photo{},
		&models.Ingredient{},
		&models.Unit{},
		&models.UnitConversion{},
		&models.UsedIngredient{},
		&models.Rating{},
	)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if err := seedUnits(db); err != nil {
		return err
	}
	return seedRecipeTypes(db)
}

// seedUnits inserts the reference units the upsert engine resolves against.
// Units are read-only at runtime, so seeding only happens on an empty table.
func seedUnits(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Unit{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	units := []models.Unit{
		{Name: "gram", Abbreviation: "g"},
		{Name: "kilogram", Abbreviation: "kg"},
		{Name: "milliliter", Abbreviation: "ml"},
		{Name: "liter", Abbreviation: "l"},
		{Name: "teaspoon", Abbreviation: "tsp"},
		{Name: "tablespoon", Abbreviation: "tbsp"},
		{Name: "cup", Abbreviation: "cup"},
		{Name: "piece", Abbreviation: "pc"},
		{Name: "pinch", Abbreviation: "pinch"},
	}
	if err := db.Create(&units).Error; err != nil {
		return fmt.Errorf("seeding units: %w", err)
	}

	conversions := []models.UnitConversion{
		{FromUnitID: units[1].ID, ToUnitID: units[0].ID, Factor: 1000}, // kg -> g
		{FromUnitID: units[3].ID, ToUnitID: units[2].ID, Factor: 1000}, // l -> ml
		{FromUnitID: units[5].ID, ToUnitID: units[4].ID, Factor: 3},    // tbsp -> tsp
		{FromUnitID: units[6].ID, ToUnitID: units[2].ID, Factor: 240},  // cup -> ml
	}
	if err := db.Create(&conversions).Error; err != nil {
		return fmt.Errorf("seeding unit conversions: %w", err)
	}
	return nil
}

func seedRecipeTypes(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.RecipeType{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	types := []models.RecipeType{
		{Description: "Starter"},
		{Description: "Main course"},
		{Description: "Dessert"},
		{Description: "Drink"},
		{Description: "Snack"},
	}
	if err := db.Create(&types).Error; err != nil {
		return fmt.Errorf("seeding recipe types: %w", err)
	}
	return nil
}
