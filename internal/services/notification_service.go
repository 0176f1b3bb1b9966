package services

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/containrrr/shoutrrr"

	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/models"
	"github.com/uptimewatcher/backend/internal/util"
)

// NotificationService sends status transitions to shoutrrr destinations.
type NotificationService struct {
	URLs []string

	send func(url, message string) error
	wg   sync.WaitGroup
}

func NewNotificationService(urls []string) *NotificationService {
	normalized := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			normalized = append(normalized, normalizeURL(u))
		}
	}
	return &NotificationService{
		URLs: normalized,
		send: func(url, message string) error { return shoutrrr.Send(url, message) },
	}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

// normalizeURL turns plain Discord webhook URLs into shoutrrr service URLs.
func normalizeURL(rawURL string) string {
	matches := discordWebhookRegex.FindStringSubmatch(rawURL)
	if len(matches) == 3 {
		return fmt.Sprintf("discord://%s@%s", matches[2], matches[1])
	}
	return rawURL
}

// shouldNotify skips the first check result and transitions into or out of a pause.
func shouldNotify(oldStatus, newStatus models.MonitorStatus) bool {
	if oldStatus == newStatus {
		return false
	}
	switch oldStatus {
	case models.StatusPending, models.StatusPaused, "":
		return false
	}
	return newStatus != models.StatusPaused && newStatus != models.StatusPending
}

// NotifyStatusChange sends one message per destination. Delivery is asynchronous; see Flush.
func (s *NotificationService) NotifyStatusChange(site *models.Site, monitor *models.Monitor, oldStatus, newStatus models.MonitorStatus, details string) {
	if s == nil || len(s.URLs) == 0 || !shouldNotify(oldStatus, newStatus) {
		return
	}

	name := site.Name
	if name == "" {
		name = site.Identifier
	}
	title := fmt.Sprintf("Monitor %s on %s is %s", monitor.ID, util.SanitizeForLog(name), newStatus)
	msg := fmt.Sprintf("%s\n\nStatus changed from %s to %s. Response time: %dms. %s",
		title, oldStatus, newStatus, monitor.ResponseTime, util.SanitizeForLog(details))

	for _, url := range s.URLs {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			if err := s.send(url, msg); err != nil {
				logger.Component("notifications").WithError(err).
					WithField("site_identifier", site.Identifier).
					Warn("failed to send status notification")
			}
		}(url)
	}
}

// Flush waits for in-flight notifications.
func (s *NotificationService) Flush() {
	if s != nil {
		s.wg.Wait()
	}
}
