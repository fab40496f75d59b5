package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/repository"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/session"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the signed-in user from the shared session
// for every request. Role and status are always read from the database.
func UserContextMiddleware(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := session.GetUserID(c, usercontext.KeyUserID)
		if userID == 0 {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		user, err := users.GetByID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				fiberlog.Errorf("[UserContext] Failed to load user %d: %v", userID, err)
			}
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}
		if !user.IsActive() {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
		})
		return c.Next()
	}
}
