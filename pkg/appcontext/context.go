// Package appcontext provides access to request-scoped values on the context.
package appcontext

import (
	"context"
)

type ContextKey string

const (
	RequestIDKey  ContextKey = "requestID"
	UserIDKey     ContextKey = "userID"
	ReviewerIDKey ContextKey = "reviewerID"
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// SetReviewerID records the identity of the human reviewer acting on a
// review queue item.
func SetReviewerID(ctx context.Context, reviewerID string) context.Context {
	return context.WithValue(ctx, ReviewerIDKey, reviewerID)
}

func GetReviewerID(ctx context.Context) string {
	reviewerID, _ := ctx.Value(ReviewerIDKey).(string)
	return reviewerID
}
