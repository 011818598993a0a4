package utils

import (
	"context"

	"github.com/gin-gonic/gin"
)

// CustomContext carries the caller identity through request and job paths.
type CustomContext struct {
	AppSource string
	OwnerId   string
	RequestId string
}

type customContextKeyType string

const customContextKey customContextKeyType = "CUSTOM_CONTEXT"

const (
	GinKeyOwnerId   = "OwnerId"
	GinKeyRequestId = "RequestId"
)

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func WithCustomContextFromGinRequest(c *gin.Context, appSource string) context.Context {
	customContext := &CustomContext{
		AppSource: appSource,
		OwnerId:   c.GetString(GinKeyOwnerId),
		RequestId: c.GetString(GinKeyRequestId),
	}
	return WithCustomContext(c.Request.Context(), customContext)
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func GetOwnerFromContext(ctx context.Context) string {
	return GetContext(ctx).OwnerId
}

func SetOwnerInContext(ctx context.Context, ownerId string) context.Context {
	customContext := *GetContext(ctx)
	customContext.OwnerId = ownerId
	return WithCustomContext(ctx, &customContext)
}
