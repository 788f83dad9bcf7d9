// Package respond renders the uniform response envelope used by every
// endpoint: {success, data} on success, {success, error:{code,message}} on
// failure.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
)

// OK renders a success envelope
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// Created renders a success envelope with a 201 status
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

// BadRequest renders a malformed-payload failure without classifying it
// beyond INVALID_AMOUNT-style field errors: binding failures share one code.
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": err.Error(),
		},
	})
}

// Error renders a failure envelope. Internal faults are logged with the full
// cause and surface only a generic message.
func Error(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(errs.HTTPStatus(code), gin.H{
		"success": false,
		"error": gin.H{
			"code":    string(code),
			"message": errs.MessageOf(err),
		},
	})
}
