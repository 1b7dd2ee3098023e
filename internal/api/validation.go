package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"payment-service/internal/apperr"
	"payment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// NewValidator builds the request validator with the struct-level money rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(validateOrderItem, service.OrderItemRequest{})
	v.RegisterStructValidation(validateCreateOrder, service.CreateOrderRequest{})
	return v
}

func validateOrderItem(sl validator.StructLevel) {
	item := sl.Current().Interface().(service.OrderItemRequest)
	if !item.UnitPrice.IsPositive() {
		sl.ReportError(item.UnitPrice, "unit_price", "UnitPrice", "gt", "0")
	} else if !service.HasCents(item.UnitPrice) {
		sl.ReportError(item.UnitPrice, "unit_price", "UnitPrice", "cents", "2")
	}
}

func validateCreateOrder(sl validator.StructLevel) {
	req := sl.Current().Interface().(service.CreateOrderRequest)
	if len(req.Items) > 0 && !req.Total().IsPositive() {
		sl.ReportError(req.Items, "items", "Items", "total_gt_zero", "")
	}
	if req.ShipmentAmount != nil && req.ShipmentAmount.IsNegative() {
		sl.ReportError(req.ShipmentAmount, "shipment_amount", "ShipmentAmount", "gte", "0")
	} else if req.ShipmentAmount != nil && !service.HasCents(*req.ShipmentAmount) {
		sl.ReportError(req.ShipmentAmount, "shipment_amount", "ShipmentAmount", "cents", "2")
	}
}

// bindAndValidate decodes the JSON body into out and validates it.
// On failure it writes a 400 response and returns false.
func bindAndValidate(c *gin.Context, v *validator.Validate, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}

	if err := v.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(c, apperr.Validation("invalid request: %v", err))
			return false
		}

		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    apperr.CodeValidation,
				"message": "request validation failed",
				"fields":  fields,
			},
		})
		return false
	}
	return true
}

// fieldPath drops the root struct name from the namespace, e.g. "items[0].title".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
