package students

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recetario/auth"
	"recetario/models"
	"recetario/uploads"
)

// student verification states
const (
	ProcessPending  = "pending"
	ProcessApproved = "approved"
	ProcessRejected = "rejected"
)

type StudentsModule struct {
	db      *gorm.DB
	storage *uploads.Storage
	logger  *zap.Logger
}

func NewStudentsModule(db *gorm.DB, storage *uploads.Storage, logger *zap.Logger) *StudentsModule {
	return &StudentsModule{db: db, storage: storage, logger: logger}
}

func (m *StudentsModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/students")
	group.Use(auth.RequireAuth(m.db))
	{
		group.POST("", m.apply)
		group.GET("/me", m.me)

		group.GET("", auth.RequireAdmin(), m.list)
		group.PUT("/:studentId/process", auth.RequireAdmin(), m.updateProcess)
		group.PUT("/:studentId/balance", auth.RequireAdmin(), m.updateBalance)
	}
}

// apply starts the student upgrade: card number plus both ID card photos,
// queued for manual admin verification.
func (m *StudentsModule) apply(c *gin.Context) {
	user := auth.CurrentUser(c)

	var existing models.Student
	if err := m.db.Where("user_id = ?", user.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "user is already a student"})
		return
	}

	cardNumber := c.PostForm("cardNumber")
	if cardNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cardNumber is required"})
		return
	}

	frontHeader, err := c.FormFile("idFront")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idFront image is required"})
		return
	}
	backHeader, err := c.FormFile("idBack")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idBack image is required"})
		return
	}

	front, err := m.storage.Save(frontHeader, uploads.CategoryStudents)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	back, err := m.storage.Save(backHeader, uploads.CategoryStudents)
	if err != nil {
		m.storage.Delete(front.Path)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	student := models.Student{
		UserID:      user.ID,
		CardNumber:  cardNumber,
		IDFrontPath: front.Path,
		IDBackPath:  back.Path,
		Process:     ProcessPending,
	}
	if err := m.db.Create(&student).Error; err != nil {
		m.storage.DeleteAll([]string{front.Path, back.Path})
		m.logger.Error("failed to create student", zap.Int("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create student record"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"student_id": student.ID, "process": student.Process})
}

func (m *StudentsModule) me(c *gin.Context) {
	user := auth.CurrentUser(c)

	var student models.Student
	if err := m.db.Where("user_id = ?", user.ID).First(&student).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no student record"})
		return
	}
	c.JSON(http.StatusOK, student)
}

func (m *StudentsModule) list(c *gin.Context) {
	type studentRow struct {
		models.Student
		Email    string `json:"email"`
		Nickname string `json:"nickname"`
	}

	var rows []studentRow
	err := m.db.Model(&models.Student{}).
		Select("students.*, users.email AS email, users.nickname AS nickname").
		Joins("JOIN users ON users.id = students.user_id").
		Order("students.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load students"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

type processRequest struct {
	Process string `json:"process"`
}

func (m *StudentsModule) updateProcess(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("studentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Process != ProcessApproved && req.Process != ProcessRejected && req.Process != ProcessPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "process must be pending, approved or rejected"})
		return
	}

	result := m.db.Model(&models.Student{}).Where("id = ?", studentID).Update("process", req.Process)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update student"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "process": req.Process})
}

type balanceRequest struct {
	Amount int `json:"amount"`
}

// updateBalance credits (or debits, with a negative amount) the student's
// account balance.
func (m *StudentsModule) updateBalance(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("studentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result := m.db.Model(&models.Student{}).Where("id = ?", studentID).
		Update("account_balance", gorm.Expr("account_balance + ?", req.Amount))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update balance"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
