package controllers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/app/repository"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/usercontext"
)

// AdminController handles the admin JSON API using repository pattern
type AdminController struct {
	repos    *repository.Repositories
	billing  *billing.Service
	counters *counter.Recorder
	jobs     *jobqueue.Queue
}

// NewAdminController creates a new admin controller with its dependencies
func NewAdminController(repos *repository.Repositories, svc *billing.Service, counters *counter.Recorder, jobs *jobqueue.Queue) *AdminController {
	return &AdminController{
		repos:    repos,
		billing:  svc,
		counters: counters,
		jobs:     jobs,
	}
}

type setVipRequest struct {
	Vip *bool `json:"vip"`
}

// HandleSetUserVip grants or revokes the user-level VIP override.
func (ac *AdminController) HandleSetUserVip(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid user id"})
	}

	var req setVipRequest
	if err := c.BodyParser(&req); err != nil || req.Vip == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": `body must be {"vip": true|false}`})
	}

	user, err := ac.billing.SetUserVip(c.UserContext(), uint(userID), *req.Vip)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return ac.handleError(c, "Failed to update VIP flag", err)
	}

	log.Printf("Admin %d set VIP=%t for user %d", usercontext.GetUserID(c), *req.Vip, user.ID)
	return c.JSON(fiber.Map{
		"user_id":        user.ID,
		"is_vip":         user.IsVip,
		"vip_granted_at": formatTimePtr(user.VipGrantedAt),
	})
}

// HandleIssueAPIKey creates or rotates a user's API key. The raw key is only
// returned here.
func (ac *AdminController) HandleIssueAPIKey(c *fiber.Ctx) error {
	user, settings, err := ac.loadUserSettings(c)
	if err != nil || user == nil {
		return err
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return ac.handleError(c, "Failed to generate API key", err)
	}
	if err := ac.repos.User.SaveSettings(settings); err != nil {
		return ac.handleError(c, "Failed to store API key", err)
	}

	log.Printf("Admin %d issued API key %s for user %d", usercontext.GetUserID(c), settings.APIKeyPrefix, user.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id":            user.ID,
		"api_key":            rawKey,
		"api_key_prefix":     settings.APIKeyPrefix,
		"api_key_created_at": formatTimePtr(settings.APIKeyCreatedAt),
	})
}

// HandleRevokeAPIKey disables a user's API key.
func (ac *AdminController) HandleRevokeAPIKey(c *fiber.Ctx) error {
	user, settings, err := ac.loadUserSettings(c)
	if err != nil || user == nil {
		return err
	}
	if !settings.HasActiveAPIKey() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User has no active API key"})
	}

	settings.RevokeAPIKey()
	if err := ac.repos.User.SaveSettings(settings); err != nil {
		return ac.handleError(c, "Failed to revoke API key", err)
	}

	log.Printf("Admin %d revoked API key of user %d", usercontext.GetUserID(c), user.ID)
	return c.JSON(fiber.Map{
		"user_id":            user.ID,
		"api_key_revoked_at": formatTimePtr(settings.APIKeyRevokedAt),
	})
}

// loadUserSettings resolves the :id user and its settings. A nil user means
// the error response has already been written.
func (ac *AdminController) loadUserSettings(c *fiber.Ctx) (*models.User, *models.UserSettings, error) {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return nil, nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid user id"})
	}
	user, err := ac.repos.User.GetByID(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return nil, nil, ac.handleError(c, "Failed to load user", err)
	}
	settings, err := ac.repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return nil, nil, ac.handleError(c, "Failed to load user settings", err)
	}
	return user, settings, nil
}

// HandleEntitlementStats returns user and subscription totals plus the gate
// decision counters. ?reset=true drains the counters after reading.
func (ac *AdminController) HandleEntitlementStats(c *fiber.Ctx) error {
	totalUsers, err := ac.repos.User.Count()
	if err != nil {
		return ac.handleError(c, "Failed to get user count", err)
	}
	vipUsers, err := ac.repos.User.CountVip()
	if err != nil {
		return ac.handleError(c, "Failed to get VIP count", err)
	}
	byStatus, err := ac.repos.Subscription.CountByStatus()
	if err != nil {
		return ac.handleError(c, "Failed to get subscription counts", err)
	}

	var decisions counter.Totals
	if ac.counters != nil {
		if c.QueryBool("reset") {
			decisions, err = ac.counters.Drain(c.UserContext())
		} else {
			decisions, err = ac.counters.Totals(c.UserContext())
		}
		if err != nil {
			// Counters are best-effort; the rest of the stats still answer.
			log.Printf("Admin Controller Error: reading decision counters - %v", err)
			decisions = nil
		}
	}

	return c.JSON(fiber.Map{
		"users":         totalUsers,
		"vip_users":     vipUsers,
		"subscriptions": byStatus,
		"decisions":     decisions,
		"jobs":          ac.jobStats(c.UserContext()),
	})
}

func (ac *AdminController) jobStats(ctx context.Context) fiber.Map {
	if ac.jobs == nil {
		return nil
	}
	stats, err := ac.jobs.GetJobStats(ctx)
	if err != nil {
		log.Printf("Admin Controller Error: reading job stats - %v", err)
		return nil
	}
	pending, _ := ac.jobs.GetQueueSize(ctx)
	processing, _ := ac.jobs.GetProcessingSize(ctx)
	return fiber.Map{
		"totals":     stats,
		"pending":    pending,
		"processing": processing,
	}
}

// HandleReplayWebhook queues a stored webhook delivery to be processed again.
func (ac *AdminController) HandleReplayWebhook(c *fiber.Ctx) error {
	eventID, err := c.ParamsInt("id")
	if err != nil || eventID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid webhook event id"})
	}
	if ac.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "jobs_unavailable", "message": "job queue is not running"})
	}

	payload := jobqueue.ReplayWebhookJobPayload{
		WebhookEventID: uint(eventID),
		RequestedBy:    usercontext.GetUserID(c),
	}
	job, err := ac.jobs.EnqueueJob(c.UserContext(), jobqueue.JobTypeReplayWebhook, payload.ToMap())
	if err != nil {
		return ac.handleError(c, "Failed to queue webhook replay", err)
	}

	log.Printf("Admin %d queued replay of webhook event %d (job %s)", payload.RequestedBy, eventID, job.ID)
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// HandleGetJob returns the status of a background job.
func (ac *AdminController) HandleGetJob(c *fiber.Ctx) error {
	if ac.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "jobs_unavailable", "message": "job queue is not running"})
	}
	job, err := ac.jobs.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Job not found"})
		}
		return ac.handleError(c, "Failed to load job", err)
	}
	return c.JSON(job)
}

func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Printf("Admin Controller Error: %s - %v", message, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": message,
	})
}
