package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"polyrotate/internal/metrics"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/redeem"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// cycleRecord is what one loop iteration reports to the stats snapshot.
type cycleRecord struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Current   portfolio.Resolution
	Desired   portfolio.PositionTag
	Rotation  *portfolio.RotationResult
	Redeemed  redeem.Result
	Err       string
	Kind      string
}

// runnerState accumulates loop outcomes. Guarded by Runner.mu.
type runnerState struct {
	Cycles      int
	CycleErrors int
	LastCycle   cycleRecord

	RotationsDone    int
	RotationsFailed  int
	RotationsSkipped int
	LastRotation     *portfolio.RotationResult

	RedemptionsSubmitted int
	RedemptionsFailed    int

	MarketsSynced int
	LastSyncAt    time.Time
}

func (r *Runner) recordCycle(rec cycleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Cycles++
	if rec.Err != "" {
		r.state.CycleErrors++
	}
	r.state.LastCycle = rec
	if res := rec.Rotation; res != nil && !res.Noop() {
		switch {
		case res.Skipped != "":
			r.state.RotationsSkipped++
		case res.State == portfolio.StateDone:
			r.state.RotationsDone++
		default:
			r.state.RotationsFailed++
		}
		r.state.LastRotation = res
	}
	r.state.RedemptionsSubmitted += rec.Redeemed.Submitted
	r.state.RedemptionsFailed += rec.Redeemed.Failed
}

// RotationInfo is a rotation as shown on /stats.
type RotationInfo struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	State     string `json:"state"`
	Orders    int    `json:"orders"`
	Sold      string `json:"sold"`
	Spent     string `json:"spent"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Skipped   string `json:"skipped,omitempty"`
	At        string `json:"at"`
	Duration  string `json:"duration"`
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Bot struct {
		Name          string `json:"name"`
		Strategy      string `json:"strategy"`
		PollInterval  string `json:"poll_interval"`
		StopAt        string `json:"stop_at,omitempty"`
		RedeemEnabled bool   `json:"redeem_enabled"`
		ConfigUpdated string `json:"config_updated_at"`
	} `json:"bot"`

	Cycles struct {
		Total        int    `json:"total"`
		Errors       int    `json:"errors"`
		LastID       string `json:"last_id,omitempty"`
		LastAt       string `json:"last_at,omitempty"`
		LastAgo      string `json:"last_ago,omitempty"`
		LastDuration string `json:"last_duration,omitempty"`
		LastError    string `json:"last_error,omitempty"`
		LastKind     string `json:"last_error_kind,omitempty"`
	} `json:"cycles"`

	Position struct {
		Current        string `json:"current"`
		CurrentAsset   string `json:"current_asset,omitempty"`
		CurrentBalance string `json:"current_balance"`
		Desired        string `json:"desired"`
	} `json:"position"`

	Rotations struct {
		Done    int           `json:"done"`
		Failed  int           `json:"failed"`
		Skipped int           `json:"skipped"`
		Last    *RotationInfo `json:"last,omitempty"`
	} `json:"rotations"`

	Redemptions struct {
		Submitted int `json:"submitted"`
		Failed    int `json:"failed"`
	} `json:"redemptions"`

	BalanceCache portfolio.CacheStats `json:"balance_cache"`

	Store struct {
		MarketsSynced int    `json:"markets_synced"`
		LastSyncAt    string `json:"last_sync_at,omitempty"`
	} `json:"store"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool   `json:"telegram_enabled"`
		TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		HeapInuse  uint64 `json:"heap_inuse"`
		NumGC      uint32 `json:"num_gc"`
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats
	now := r.now()

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := now.Sub(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	cfg := r.liveConfig.Get()
	stats.Bot.Name = cfg.Bot.Name
	stats.Bot.Strategy = cfg.Bot.Strategy
	stats.Bot.PollInterval = cfg.Bot.PollInterval.String()
	stats.Bot.StopAt = cfg.Bot.StopAt
	stats.Bot.RedeemEnabled = cfg.Bot.RedeemEnabled && r.checker != nil
	stats.Bot.ConfigUpdated = r.liveConfig.LastUpdated().UTC().Format(time.RFC3339)

	r.mu.RLock()
	st := r.state
	r.mu.RUnlock()

	stats.Cycles.Total = st.Cycles
	stats.Cycles.Errors = st.CycleErrors
	if last := st.LastCycle; last.ID != "" {
		stats.Cycles.LastID = last.ID
		stats.Cycles.LastAt = last.StartedAt.UTC().Format(time.RFC3339)
		stats.Cycles.LastAgo = now.Sub(last.StartedAt).Round(time.Second).String()
		stats.Cycles.LastDuration = last.Duration.Round(time.Millisecond).String()
		stats.Cycles.LastError = last.Err
		stats.Cycles.LastKind = last.Kind

		stats.Position.Current = nz(string(last.Current.Tag), "none")
		stats.Position.CurrentAsset = last.Current.AssetID
		stats.Position.CurrentBalance = last.Current.Balance.String()
		stats.Position.Desired = nz(string(last.Desired), "hold")
	}

	stats.Rotations.Done = st.RotationsDone
	stats.Rotations.Failed = st.RotationsFailed
	stats.Rotations.Skipped = st.RotationsSkipped
	if res := st.LastRotation; res != nil {
		info := &RotationInfo{
			ID:       res.ID,
			From:     nz(string(res.From), "none"),
			To:       string(res.To),
			State:    string(res.State),
			Orders:   res.Orders,
			Sold:     res.Sold.String(),
			Spent:    res.Bought.String(),
			Skipped:  res.Skipped,
			At:       res.StartedAt.UTC().Format(time.RFC3339),
			Duration: res.Duration.Round(time.Millisecond).String(),
		}
		if res.Err != nil {
			info.ErrorKind = string(res.Kind)
			info.Error = res.Err.Error()
		}
		stats.Rotations.Last = info
	}

	stats.Redemptions.Submitted = st.RedemptionsSubmitted
	stats.Redemptions.Failed = st.RedemptionsFailed
	stats.BalanceCache = r.cache.Stats()

	stats.Store.MarketsSynced = st.MarketsSynced
	if !st.LastSyncAt.IsZero() {
		stats.Store.LastSyncAt = st.LastSyncAt.UTC().Format(time.RFC3339)
	}

	// Notification status
	if r.clients != nil {
		stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.IsEnabled()
		if stats.Notifications.DiscordEnabled {
			if cfg.IsProd {
				stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
			} else {
				stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
			}
		}
		stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.IsEnabled()
		if stats.Notifications.TelegramEnabled {
			if cfg.IsProd {
				stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
			} else {
				stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
			}
		}
	}

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.NumGC = memStats.NumGC
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}

// routes builds the health server handler.
func (r *Runner) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(metrics.Middleware)

	// Health check endpoint
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JSON stats endpoint
	mux.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := r.GetStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stats)
	})

	// Running config, secrets omitted
	mux.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		data, err := r.liveConfig.Get().ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	// WebSocket endpoint for real-time stats
	mux.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		// Send stats every second
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			if err := conn.WriteJSON(r.GetStats()); err != nil {
				return // Client disconnected
			}
			select {
			case <-req.Context().Done():
				return
			case <-ticker.C:
			}
		}
	})

	mux.Handle("/metrics", metrics.Handler())

	// HTML dashboard
	mux.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	return mux
}

// startHealthServer starts an HTTP server for health checks and stats.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("health server error", zap.Error(err))
		}
	}()
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>polyrotate</title>
<style>
  body { font-family: ui-monospace, Menlo, monospace; background: #0f1115; color: #d7dae0; margin: 2rem; }
  h1 { font-size: 1.2rem; margin: 0 0 1rem; }
  .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(260px, 1fr)); gap: 1rem; }
  .card { background: #181b22; border: 1px solid #262a33; border-radius: 6px; padding: 1rem; }
  .card h2 { font-size: .8rem; text-transform: uppercase; color: #7d8590; margin: 0 0 .5rem; }
  .row { display: flex; justify-content: space-between; padding: .15rem 0; }
  .ok { color: #3fb950; } .bad { color: #f85149; } .muted { color: #7d8590; }
</style>
</head>
<body>
<h1>polyrotate <span id="bot" class="muted"></span> <span id="conn" class="bad">disconnected</span></h1>
<div class="grid">
  <div class="card"><h2>Position</h2><div id="position"></div></div>
  <div class="card"><h2>Cycles</h2><div id="cycles"></div></div>
  <div class="card"><h2>Rotations</h2><div id="rotations"></div></div>
  <div class="card"><h2>Balance cache</h2><div id="cache"></div></div>
  <div class="card"><h2>Store</h2><div id="store"></div></div>
  <div class="card"><h2>Service</h2><div id="service"></div></div>
</div>
<script>
function rows(el, pairs) {
  document.getElementById(el).innerHTML = pairs
    .filter(p => p[1] !== undefined && p[1] !== "")
    .map(p => '<div class="row"><span class="muted">' + p[0] + '</span><span>' + p[1] + '</span></div>')
    .join("");
}
function render(s) {
  document.getElementById("bot").textContent = s.bot.name + " / " + s.bot.strategy;
  rows("position", [["current", s.position.current], ["balance", s.position.current_balance], ["desired", s.position.desired]]);
  rows("cycles", [["total", s.cycles.total], ["errors", s.cycles.errors], ["last", s.cycles.last_ago], ["took", s.cycles.last_duration], ["last error", s.cycles.last_error_kind]]);
  const last = s.rotations.last || {};
  rows("rotations", [["done", s.rotations.done], ["failed", s.rotations.failed], ["skipped", s.rotations.skipped], ["last", last.from ? last.from + " -> " + last.to + " (" + last.state + ")" : ""]]);
  rows("cache", [["hits", s.balance_cache.hits], ["misses", s.balance_cache.misses], ["entries", s.balance_cache.entries]]);
  rows("store", [["markets synced", s.store.markets_synced], ["last sync", s.store.last_sync_at]]);
  rows("service", [["uptime", s.uptime], ["commit", s.build.commit.slice(0, 12)], ["goroutines", s.runtime.goroutines], ["redemptions", s.redemptions.submitted + " / " + s.redemptions.failed + " failed"]]);
}
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  const conn = document.getElementById("conn");
  ws.onopen = () => { conn.textContent = "live"; conn.className = "ok"; };
  ws.onmessage = e => render(JSON.parse(e.data));
  ws.onclose = () => { conn.textContent = "disconnected"; conn.className = "bad"; setTimeout(connect, 2000); };
}
connect();
</script>
</body>
</html>
`
