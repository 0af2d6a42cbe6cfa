package httpapi

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	"respawnbot/internal/view"
	logx "respawnbot/pkg/logx"
)

type timerDTO struct {
	Boss           string    `json:"boss"`
	Room           int       `json:"room"`
	Phase          string    `json:"phase"`
	DeathTime      time.Time `json:"death_time,omitzero"`
	RespawnTime    time.Time `json:"respawn_time,omitzero"`
	ClosedTime     time.Time `json:"closed_time,omitzero"`
	RecordedBy     string    `json:"recorded_by,omitempty"`
	OpenedNotified bool      `json:"opened_notified"`
	// Remaining counts down to respawn (scheduled) or close (open).
	Remaining string `json:"remaining,omitempty"`
}

func toDTO(e timer.Entry, now time.Time) timerDTO {
	ph := e.Phase(now)
	d := timerDTO{
		Boss:           e.Boss,
		Room:           e.Room,
		Phase:          ph.String(),
		DeathTime:      e.DeathTime,
		RespawnTime:    e.RespawnTime,
		ClosedTime:     e.ClosedTime,
		RecordedBy:     e.RecordedBy,
		OpenedNotified: e.OpenedNotified,
	}
	switch ph {
	case timer.PhaseScheduled:
		d.Remaining = timefmt.Remaining(e.RespawnTime, now)
	case timer.PhaseOpen:
		d.Remaining = timefmt.Remaining(e.ClosedTime, now)
	}
	return d
}

type rankDTO struct {
	Position     int       `json:"position"`
	Medal        string    `json:"medal,omitempty"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Count        int       `json:"count"`
	LastRecorded time.Time `json:"last_recorded,omitzero"`
}

func (s *Service) routes(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api", bearerAuth(cfg.Token))
	{
		api.GET("/timers", s.getTimers)
		api.GET("/ranking", s.getRanking)
		api.GET("/next", s.getNext)
		api.GET("/health", s.getHealth)
	}

	if cfg.Pprof {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			addr = defaultAddr
		}
		if cfg.Token == "" && !cfg.AllowInsecure && !isLoopbackAddr(addr) {
			s.log.Error("pprof not mounted: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		} else {
			s.mountPprof(r, cfg)
		}
	}
	return r
}

func (s *Service) mountPprof(r *gin.Engine, cfg Config) {
	prefix := normalizePrefix(cfg.PprofPrefix)
	g := r.Group(strings.TrimSuffix(prefix, "/"), bearerAuth(cfg.Token))
	g.GET("/", gin.WrapF(pprofIndexAt(prefix)))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	g.GET("/:profile", gin.WrapF(pprofIndexAt(prefix)))
}

func (s *Service) getTimers(c *gin.Context) {
	now := s.now()
	compact, _ := strconv.ParseBool(c.DefaultQuery("compact", "false"))
	snap := s.timers.Snapshot()
	out := make([]timerDTO, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if compact && e.Phase(now) == timer.PhaseEmpty {
			continue
		}
		out = append(out, toDTO(e, now))
	}
	c.JSON(http.StatusOK, gin.H{"now": now, "timers": out})
}

func (s *Service) getRanking(c *gin.Context) {
	entries := view.RankingEntries(s.timers.Snapshot().Stats)
	out := make([]rankDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, rankDTO{
			Position:     e.Position,
			Medal:        e.Medal,
			UserID:       e.UserID,
			DisplayName:  e.DisplayName,
			Count:        e.Count,
			LastRecorded: e.LastRecorded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ranking": out})
}

func (s *Service) getNext(c *gin.Context) {
	now := s.now()
	up := view.Next(s.timers.Snapshot(), now)
	conv := func(es []timer.Entry) []timerDTO {
		out := make([]timerDTO, 0, len(es))
		for _, e := range es {
			out = append(out, toDTO(e, now))
		}
		return out
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": conv(up.Scheduled), "open": conv(up.Open)})
}

func (s *Service) getHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, s.health())
}

func (s *Service) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			if ah := c.GetHeader("Authorization"); len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
				got = strings.TrimSpace(ah[7:])
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so the path is
// rewritten for custom prefixes.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
