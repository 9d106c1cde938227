// middleware/middleware.go
// 本地控制台的访问防护：只放行回环地址，外加一层简单的 IP 限流
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// LocalOnly 只允许本地访问（127.0.0.1 或 ::1）。
// 控制台接口会收到私钥材料，绝不能暴露到回环之外。
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden: local access only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimiter 按 IP 的窗口计数器
type rateLimiter struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset map[string]time.Time
	limit     int
	window    time.Duration
}

// RateLimit 限制每个 IP 在 window 内最多 limit 次请求。
// 状态随中间件实例走，不放全局。
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Second
	}
	rl := &rateLimiter{
		counts:    make(map[string]int),
		lastReset: make(map[string]time.Time),
		limit:     limit,
		window:    window,
	}
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	// 窗口过期即重置计数；顺手清掉别的过期条目，防止 map 无界增长
	if last, ok := rl.lastReset[ip]; !ok || now.Sub(last) > rl.window {
		rl.counts[ip] = 0
		rl.lastReset[ip] = now
		for other, t := range rl.lastReset {
			if now.Sub(t) > 2*rl.window {
				delete(rl.counts, other)
				delete(rl.lastReset, other)
			}
		}
	}

	rl.counts[ip]++
	return rl.counts[ip] <= rl.limit
}
