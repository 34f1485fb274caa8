package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"recetario/common"
	"recetario/database"
	"recetario/email"
	"recetario/ingredients"
	"recetario/ratings"
	"recetario/recipes"
	"recetario/students"
	"recetario/units"
	"recetario/uploads"
	"recetario/users"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	logger, err := common.NewLogger()
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	defer logger.Sync()

	db := common.ConnectDb(logger)
	if db == nil {
		log.Fatal("failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("failed to run migrations:", err)
	}

	uploadsRoot := os.Getenv("UPLOADS_DIR")
	if uploadsRoot == "" {
		uploadsRoot = "./static"
	}
	storage := uploads.NewStorage(uploadsRoot, logger)

	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	router.Static("/uploads", uploadsRoot+"/uploads")

	emailService := email.NewEmailService()

	usersModule := users.NewUsersModule(db, emailService, logger)
	usersModule.RegisterRoutes(router)

	recipesModule := recipes.NewRecipesModule(db, storage, logger)
	recipesModule.RegisterRoutes(router)

	ingredientsModule := ingredients.NewIngredientsModule(db)
	ingredientsModule.RegisterRoutes(router)

	unitsModule := units.NewUnitsModule(db)
	unitsModule.RegisterRoutes(router)

	ratingsModule := ratings.NewRatingsModule(db, logger)
	ratingsModule.RegisterRoutes(router)

	studentsModule := students.NewStudentsModule(db, storage, logger)
	studentsModule.RegisterRoutes(router)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
