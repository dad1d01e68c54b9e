package server

import (
	"net"
	"sync"
	"time"
)

// RateLimiter bans source IPs that fail authentication too often within a
// sliding window.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	records map[string]*ipRecord

	stopOnce sync.Once
	stopCh   chan struct{}
}

type ipRecord struct {
	failedAttempts []time.Time
	bannedUntil    time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  cfg,
		records: make(map[string]*ipRecord),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func extractIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// CheckAttempt reports a non-empty rejection reason when the address is
// currently banned.
func (rl *RateLimiter) CheckAttempt(addr net.Addr) string {
	ip := extractIP(addr)
	if ip == "" {
		return ""
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	record := rl.records[ip]
	if record == nil {
		return ""
	}
	if time.Now().Before(record.bannedUntil) {
		rateLimitRejectsTotal.Inc()
		return "too many failed authentication attempts; try again later"
	}
	return ""
}

// RecordFailedAuth counts a failure and reports whether this one triggered
// a ban.
func (rl *RateLimiter) RecordFailedAuth(addr net.Addr) bool {
	ip := extractIP(addr)
	if ip == "" || rl.config.MaxFailedAttempts <= 0 {
		return false
	}
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	record := rl.records[ip]
	if record == nil {
		record = &ipRecord{}
		rl.records[ip] = record
	}

	cutoff := now.Add(-rl.config.FailedAttemptWindow.Std())
	kept := record.failedAttempts[:0]
	for _, ts := range record.failedAttempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	record.failedAttempts = append(kept, now)

	if len(record.failedAttempts) >= rl.config.MaxFailedAttempts {
		record.bannedUntil = now.Add(rl.config.BanDuration.Std())
		record.failedAttempts = nil
		return true
	}
	return false
}

// RecordSuccessfulAuth clears failure tracking for the address.
func (rl *RateLimiter) RecordSuccessfulAuth(addr net.Addr) {
	ip := extractIP(addr)
	if ip == "" {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if record := rl.records[ip]; record != nil {
		record.failedAttempts = nil
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.FailedAttemptWindow.Std())
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, record := range rl.records {
		if now.After(record.bannedUntil) && (len(record.failedAttempts) == 0 || record.failedAttempts[len(record.failedAttempts)-1].Before(cutoff)) {
			delete(rl.records, ip)
		}
	}
}

func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}
