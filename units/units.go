package units

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"recetario/models"
)

// UnitsModule exposes the seeded unit reference table and amount conversion
// between units with a known factor.
type UnitsModule struct {
	db *gorm.DB
}

func NewUnitsModule(db *gorm.DB) *UnitsModule {
	return &UnitsModule{db: db}
}

func (m *UnitsModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/units")
	{
		group.GET("", m.list)
		group.GET("/conversions", m.listConversions)
		group.POST("/convert", m.convert)
	}
}

func (m *UnitsModule) list(c *gin.Context) {
	var units []models.Unit
	if err := m.db.Order("abbreviation ASC").Find(&units).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load units"})
		return
	}
	c.JSON(http.StatusOK, units)
}

func (m *UnitsModule) listConversions(c *gin.Context) {
	var conversions []models.UnitConversion
	if err := m.db.Find(&conversions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversions"})
		return
	}
	c.JSON(http.StatusOK, conversions)
}

type convertRequest struct {
	Amount float64 `json:"amount"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

// convert applies a stored conversion factor, using the inverse when only
// the opposite direction is recorded.
func (m *UnitsModule) convert(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	from, err := m.unitByAbbreviation(req.From)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown unit " + req.From})
		return
	}
	to, err := m.unitByAbbreviation(req.To)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown unit " + req.To})
		return
	}

	var conversion models.UnitConversion
	err = m.db.Where("from_unit_id = ? AND to_unit_id = ?", from.ID, to.ID).First(&conversion).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"amount": req.Amount * conversion.Factor, "unit": to.Abbreviation})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversion lookup failed"})
		return
	}

	err = m.db.Where("from_unit_id = ? AND to_unit_id = ?", to.ID, from.ID).First(&conversion).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"amount": req.Amount / conversion.Factor, "unit": to.Abbreviation})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no conversion between " + req.From + " and " + req.To})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "conversion lookup failed"})
}

func (m *UnitsModule) unitByAbbreviation(abbr string) (*models.Unit, error) {
	var unit models.Unit
	if err := m.db.Where("abbreviation = ?", abbr).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}
