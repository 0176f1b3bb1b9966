package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-ping/ping"

	"github.com/uptimewatcher/backend/internal/models"
)

// CheckResult is the outcome of a single monitor check.
type CheckResult struct {
	Status       models.MonitorStatus
	ResponseTime int64 // ms, -1 when no response was received
	Details      string
	CheckedAt    time.Time
}

// MonitorChecker runs a full check, retries included.
type MonitorChecker interface {
	Check(ctx context.Context, monitor *models.Monitor) CheckResult
}

// Checker dispatches checks by monitor type and retries failed attempts.
type Checker struct {
	HTTPClient *http.Client
	// DegradedAfter marks otherwise healthy responses slower than this as degraded.
	DegradedAfter time.Duration
	// PingPrivileged switches go-ping to raw ICMP sockets.
	PingPrivileged bool
	now            func() time.Time
}

func NewChecker() *Checker {
	return &Checker{
		HTTPClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		DegradedAfter: 5 * time.Second,
		now:           time.Now,
	}
}

// Check probes the monitor, retrying up to RetryAttempts times while it is down.
func (c *Checker) Check(ctx context.Context, monitor *models.Monitor) CheckResult {
	attempts := monitor.RetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}
	var res CheckResult
	for i := 0; i < attempts; i++ {
		res = c.Probe(ctx, monitor)
		if res.Status != models.StatusDown || ctx.Err() != nil {
			break
		}
	}
	return res
}

// Probe runs a single attempt bounded by the monitor timeout.
func (c *Checker) Probe(ctx context.Context, monitor *models.Monitor) CheckResult {
	timeout := time.Duration(monitor.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	var res CheckResult
	switch monitor.Type {
	case models.MonitorTypeHTTP, "https":
		res = c.checkHTTP(ctx, monitor)
	case models.MonitorTypePort:
		res = c.checkPort(ctx, monitor)
	case models.MonitorTypePing:
		res = c.checkPing(ctx, monitor, timeout)
	default:
		res = CheckResult{Status: models.StatusUnknown, ResponseTime: -1, Details: "Unknown monitor type"}
	}
	res.CheckedAt = c.now()
	if res.ResponseTime == 0 && res.Status != models.StatusUnknown {
		res.ResponseTime = res.CheckedAt.Sub(start).Milliseconds()
	}
	if res.Status == models.StatusUp && c.DegradedAfter > 0 &&
		time.Duration(res.ResponseTime)*time.Millisecond > c.DegradedAfter {
		res.Status = models.StatusDegraded
	}
	return res
}

func (c *Checker) checkHTTP(ctx context.Context, monitor *models.Monitor) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, monitor.URL, nil)
	if err != nil {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: err.Error()}
	}
	start := c.now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: err.Error()}
	}
	defer resp.Body.Close()
	elapsed := c.now().Sub(start).Milliseconds()

	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	// 401/403 usually means the service is up but protected
	if (resp.StatusCode >= 200 && resp.StatusCode < 400) || resp.StatusCode == 401 || resp.StatusCode == 403 {
		return CheckResult{Status: models.StatusUp, ResponseTime: elapsed, Details: msg}
	}
	return CheckResult{Status: models.StatusDown, ResponseTime: elapsed, Details: msg}
}

func (c *Checker) checkPort(ctx context.Context, monitor *models.Monitor) CheckResult {
	addr := net.JoinHostPort(monitor.Host, strconv.Itoa(monitor.Port))
	var d net.Dialer
	start := c.now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: err.Error()}
	}
	conn.Close()
	return CheckResult{Status: models.StatusUp, ResponseTime: c.now().Sub(start).Milliseconds(), Details: "Connection successful"}
}

func (c *Checker) checkPing(ctx context.Context, monitor *models.Monitor, timeout time.Duration) CheckResult {
	pinger, err := ping.NewPinger(monitor.Host)
	if err != nil {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: err.Error()}
	}
	pinger.Count = 3
	pinger.Timeout = timeout
	pinger.SetPrivileged(c.PingPrivileged)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()
	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
	case err = <-done:
	}
	if err != nil {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: err.Error()}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return CheckResult{Status: models.StatusDown, ResponseTime: -1, Details: fmt.Sprintf("0/%d packets received", stats.PacketsSent)}
	}
	return CheckResult{
		Status:       models.StatusUp,
		ResponseTime: stats.AvgRtt.Milliseconds(),
		Details:      fmt.Sprintf("%d/%d packets received, %.0f%% loss", stats.PacketsRecv, stats.PacketsSent, stats.PacketLoss),
	}
}
