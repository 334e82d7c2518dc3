package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/langchou/ezpark/internal/api/middleware"
	"github.com/langchou/ezpark/internal/models"
)

var validatorsOnce sync.Once

// registerValidators 注册自定义 binding 校验
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("spotsource", func(fl validator.FieldLevel) bool {
			_, err := models.ParseSource(fl.Field().String())
			return err == nil
		})
	})
}

// sourceRequest 签到 / 换车位请求体（可为空）
type sourceRequest struct {
	Source string `json:"source" binding:"omitempty,spotsource"`
}

type scanRequest struct {
	Payload string `json:"payload" binding:"required,max=256"`
}

type reportRequest struct {
	ReportType string `json:"report_type" binding:"required,oneof=occupied-to-available available-to-occupied"`
	Notes      string `json:"notes" binding:"max=1000"`
}

// bindOptionalJSON 空请求体视为零值
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return binding.Validator.ValidateStruct(obj)
	}
	return err
}

// writeBindError 请求体解析 / 校验失败
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0]
		code := "invalid_request"
		if field.Tag() == "spotsource" {
			code = "invalid_source"
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid field: " + field.Field(),
			"code":  code,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "code": "invalid_request"})
}

// parseLimit 解析 limit 查询参数
func parseLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func spotIDParam(c *gin.Context) (models.SpotID, bool) {
	id, err := models.ParseSpotID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid spot ID", "code": "invalid_identifier"})
		return "", false
	}
	return id, true
}

func scopeIDParam(c *gin.Context) (string, bool) {
	id, err := models.ParseScopeID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID", "code": "invalid_identifier"})
		return "", false
	}
	return id, true
}

func occupant(c *gin.Context) (string, bool) {
	id, ok := middleware.OccupantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return id, ok
}
