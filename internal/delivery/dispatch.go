package delivery

import (
	"context"
	"fmt"

	"job-delivery-service/internal/entity"
)

// MediaDispatcher sends a finished artifact to the user's messaging transport.
type MediaDispatcher interface {
	SendImage(ctx context.Context, userID, resultRef string) error
	SendVideo(ctx context.Context, userID, resultRef string) error
	SendAudio(ctx context.Context, userID, resultRef string) error
}

// Dispatch routes a result to the MediaDispatcher variant for category.
// A panic inside the dispatcher is returned as an error.
func Dispatch(ctx context.Context, media MediaDispatcher, category entity.Category, userID, resultRef string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	switch category {
	case entity.CategoryImage:
		return media.SendImage(ctx, userID, resultRef)
	case entity.CategoryVideo:
		return media.SendVideo(ctx, userID, resultRef)
	case entity.CategoryAudio:
		return media.SendAudio(ctx, userID, resultRef)
	default:
		return fmt.Errorf("unsupported category %q", category)
	}
}
