package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/models"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

func startSpan(c *gin.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(c.Request.Context(), name)
}

// respondError maps the failure taxonomy onto the HTTP contract: every
// engine failure is a 400 with a reason and a retryable hint, unknown
// resources on GET endpoints are 404, everything unexpected is 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorValidation),
		errors.Is(err, utils.ErrorRecordNotFound),
		errors.Is(err, utils.ErrorInsufficientStock),
		errors.Is(err, utils.ErrorVersionConflict),
		errors.Is(err, utils.ErrorLockTimeout),
		errors.Is(err, utils.ErrorWrongStatus),
		errors.Is(err, utils.ErrorReservationExpired):
		c.JSON(http.StatusBadRequest, gin.H{
			"detail":    err.Error(),
			"retryable": utils.IsRetryable(err),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

func createHoldHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "createHold")
		defer span.End()

		var input workflow.NewHold
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if input.UserId != nil {
			ctx = utils.SetUserIdInContext(ctx, *input.UserId)
		}

		reservation, err := engine.CreateHold(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, reservation)
	}
}

func createAllocationHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "createAllocation")
		defer span.End()

		var input workflow.NewAllocation
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if input.UserId != nil {
			ctx = utils.SetUserIdInContext(ctx, *input.UserId)
		}

		reservation, err := engine.CreateAllocation(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, reservation)
	}
}

// actorContext attaches the caller identity from the x-actor header so audit
// rows written by convert/release record who acted, not "system".
func actorContext(ctx context.Context, c *gin.Context) context.Context {
	if actor := strings.TrimSpace(c.GetHeader("x-actor")); actor != "" {
		return utils.SetActorInContext(ctx, actor)
	}
	return ctx
}

func convertHoldHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "convertHold")
		defer span.End()
		ctx = actorContext(ctx, c)

		reservationId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid reservation id"})
			return
		}

		reservation, err := engine.ConvertHoldToAllocation(ctx, reservationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reservation)
	}
}

func releaseHoldHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "releaseHold")
		defer span.End()
		ctx = actorContext(ctx, c)

		reservationId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid reservation id"})
			return
		}

		reservation, err := engine.ReleaseHold(ctx, reservationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reservation)
	}
}

func availabilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "availability")
		defer span.End()

		var skuIds []uuid.UUID
		if raw := strings.TrimSpace(c.Query("sku_ids")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				id, err := uuid.Parse(strings.TrimSpace(part))
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid sku id: " + part})
					return
				}
				skuIds = append(skuIds, id)
			}
		}

		rows, err := models.GetAvailability(ctx, skuIds)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func consistencyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "consistency")
		defer span.End()

		report, err := models.CheckConsistency(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func createSkuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "createSku")
		defer span.End()

		var input models.NewSku
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		sku, err := models.CreateSku(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sku)
	}
}

func listSkusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "listSkus")
		defer span.End()

		skus, err := models.ListSkus(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, skus)
	}
}

func adjustSkuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "adjustSku")
		defer span.End()

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid sku id"})
			return
		}

		var input struct {
			Delta int64   `json:"delta" binding:"required"`
			Actor *string `json:"actor"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		actor := "system"
		if input.Actor != nil && *input.Actor != "" {
			actor = *input.Actor
		}

		level, err := models.AdjustTotalQuantity(ctx, id, input.Delta, actor)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, level)
	}
}

func getSkuHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := startSpan(c, "getSku")
		defer span.End()

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid sku id"})
			return
		}

		sku, err := models.GetSkuWithInventory(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "sku not found"})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sku)
	}
}
