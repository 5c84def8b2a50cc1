// Package dashboard serves proxad's read-only operator web UI and REST
// API.
//
// The dashboard is mounted on /dashboard and /api/ on its own listener
// address (see internal/config.DashboardConfig), separate from the
// intercepted traffic listeners. It provides:
//
//   - Web UI:     GET /dashboard          — Single-page operator dashboard
//   - WebSocket:  GET /dashboard/ws       — Live audit event feed
//   - REST API:   GET /api/status         — Proxy status
//                 GET /api/flows          — Flow list with stats
//                 GET /api/audit          — Recent audit entries
//                 GET /api/filters        — Active filter module info
//                 POST /api/kill          — Manually kill a flow
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/simoneerrigo/proxad/internal/audit"
	"github.com/simoneerrigo/proxad/internal/filterhost"
	"github.com/simoneerrigo/proxad/internal/registry"
)

// Options holds the dependencies injected into the dashboard.
type Options struct {
	AuditLog      *audit.AuditLog
	Registry      *registry.Registry
	KillSwitch    *registry.KillSwitch
	Host          *filterhost.Host
	ListenerNames []string // names of the bound front-facing listeners, for /api/status
}

// Dashboard serves the web UI and REST API.
type Dashboard struct {
	auditLog      *audit.AuditLog
	registry      *registry.Registry
	killSwitch    *registry.KillSwitch
	host          *filterhost.Host
	listenerNames []string
	wsHub         *wsHub
}

// New creates a new Dashboard with the given dependencies.
func New(opts Options) *Dashboard {
	d := &Dashboard{
		auditLog:      opts.AuditLog,
		registry:      opts.Registry,
		killSwitch:    opts.KillSwitch,
		host:          opts.Host,
		listenerNames: opts.ListenerNames,
		wsHub:         newWSHub(),
	}

	go d.wsHub.run()

	return d
}

// ServeHTTP handles requests to /dashboard and /dashboard/.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

// WebSocketHandler returns an http.Handler for the /dashboard/ws endpoint.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.handleWebSocket(w, r)
	})
}

// APIHandler returns an http.Handler for the /api/ REST endpoints.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/flows", d.handleAPIFlows)
	mux.HandleFunc("/api/audit", d.handleAPIAudit)
	mux.HandleFunc("/api/filters", d.handleAPIFilters)
	mux.HandleFunc("/api/kill", d.handleAPIKill)

	return mux
}

// BroadcastEvent sends an audit event to all connected WebSocket clients.
// Non-blocking — if no clients are connected, the event is dropped. The
// proxy does not call it, so the /dashboard/ws live feed receives no
// events from the running proxy.
func (d *Dashboard) BroadcastEvent(e audit.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal broadcast event", "error", err)
		return
	}
	d.wsHub.broadcast(data)
}

// --- REST API Handlers ---

// handleAPIStatus returns proxy status information.
// GET /api/status
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"status":    "running",
		"listeners": d.listenerNames,
		"flows":     len(d.registry.List()),
		"killed":    d.killSwitch.Len(),
		"filters":   d.host.Status(),
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAPIFlows returns the list of tracked flows with stats.
// GET /api/flows
func (d *Dashboard) handleAPIFlows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, d.registry.List())
}

// handleAPIAudit returns recent audit entries.
// GET /api/audit?limit=50&flow=<id>&kind=kill
func (d *Dashboard) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	params := audit.QueryParams{
		FlowID: r.URL.Query().Get("flow"),
		Kind:   r.URL.Query().Get("kind"),
		Limit:  limit,
	}

	entries, err := d.auditLog.Query(params)
	if err != nil {
		slog.Error("audit query failed", "error", err)
		http.Error(w, "audit query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleAPIFilters returns the currently active filter chain's identity,
// in declared order. Read-only — filters are hot-reloaded from disk by
// internal/filterhost's own watcher, not edited through the dashboard the
// way ctrlai's YAML rules were.
// GET /api/filters
func (d *Dashboard) handleAPIFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	mods := d.host.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  len(mods) > 0,
		"filters": mods,
	})
}

// handleAPIKill manually kills a flow via the REST API.
// POST /api/kill  { "flow": "<flow-id>", "reason": "suspicious activity" }
func (d *Dashboard) handleAPIKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Flow   string `json:"flow"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Flow == "" {
		http.Error(w, "flow field required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "killed via dashboard API"
	}

	d.killSwitch.Kill(req.Flow, req.Reason, "dashboard")
	d.registry.RecordDecision(req.Flow, "operator", "kill")
	if d.auditLog != nil {
		d.auditLog.LogKill(req.Flow, "operator", req.Reason)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "killed", "flow": req.Flow})
}

// --- Helpers ---

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// dashboardHTML is the embedded HTML for the operator dashboard. Minimal
// single-page UI showing proxy status, live flows, and the audit feed.
// Refreshes via periodic fetch + WebSocket, with zero build dependencies.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>proxad Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  .status-open { color: #3fb950; }
  .status-killed { color: #f85149; }
  .status-closed { color: #8b949e; }
  .kind-kill { color: #f85149; font-weight: bold; }
  .kind-open { color: #3fb950; }
  .kind-error { color: #d29922; }
  .kind-close,.kind-reload { color: #58a6ff; }
  #live-feed { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .btn { background: #21262d; border: 1px solid #30363d; color: #e1e4e8;
         padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 12px; }
  .btn:hover { background: #30363d; }
  .btn-danger { border-color: #f85149; color: #f85149; }
</style>
</head>
<body>
<h1>proxad Dashboard</h1>
<p class="subtitle">Attack-defense CTF traffic inspection proxy</p>

<div class="grid">
  <div class="card">
    <h2>Flows</h2>
    <table>
      <thead><tr><th>ID</th><th>Status</th><th>Listener</th><th>Bytes C→S</th><th>Bytes S→C</th><th>Action</th></tr></thead>
      <tbody id="flows-tbody"><tr><td colspan="6">Loading...</td></tr></tbody>
    </table>
  </div>
  <div class="card">
    <h2>Filter Chain</h2>
    <table>
      <thead><tr><th>#</th><th>Name</th><th>Path</th></tr></thead>
      <tbody id="filters-tbody"><tr><td colspan="3">Loading...</td></tr></tbody>
    </table>
  </div>
</div>

<div class="card">
  <h2>Live Activity Feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
}
async function refresh() {
  try {
    const [flowsRes, filtersRes, auditRes] = await Promise.all([
      fetch('/api/flows'), fetch('/api/filters'), fetch('/api/audit?limit=20')
    ]);
    renderFlows(await flowsRes.json());
    renderFilters(await filtersRes.json());
    renderAudit(await auditRes.json());
  } catch(e) { console.error('refresh failed:', e); }
}

function renderFlows(flows) {
  const tbody = document.getElementById('flows-tbody');
  if (!flows || flows.length === 0) { tbody.innerHTML = '<tr><td colspan="6">No flows yet</td></tr>'; return; }
  tbody.innerHTML = flows.map(f => {
    const cls = 'status-' + esc(f.status);
    const id = esc(f.id);
    const btn = f.status === 'open'
      ? '<button class="btn btn-danger" onclick="killFlow(\'' + id + '\')">Kill</button>'
      : '';
    return '<tr><td>' + id + '</td><td class="' + cls + '">' + esc(f.status) +
      '</td><td>' + esc(f.listener) + '</td><td>' + (f.bytes_c2s||0) +
      '</td><td>' + (f.bytes_s2c||0) + '</td><td>' + btn + '</td></tr>';
  }).join('');
}

function renderFilters(info) {
  const tbody = document.getElementById('filters-tbody');
  const mods = info.filters || [];
  if (!info.loaded || mods.length === 0) {
    tbody.innerHTML = '<tr><td colspan="3">none loaded</td></tr>';
    return;
  }
  tbody.innerHTML = mods.map((m, i) =>
    '<tr><td>' + (i + 1) + '</td><td>' + esc(m.name) + '</td><td>' + esc(m.path) + '</td></tr>'
  ).join('');
}

function renderAudit(entries) {
  const feed = document.getElementById('live-feed');
  if (!entries || entries.length === 0) { feed.innerHTML = '<div class="feed-entry">No entries yet</div>'; return; }
  feed.innerHTML = entries.map(e => {
    const cls = 'kind-' + esc(e.kind);
    return '<div class="feed-entry">[' + esc(e.ts) + '] flow=' + esc(e.flow_id||'-') +
      ' <span class="' + cls + '">' + esc(e.kind) + '</span></div>';
  }).join('');
}

async function killFlow(id) {
  await fetch('/api/kill', { method: 'POST', headers: {'Content-Type':'application/json'},
    body: JSON.stringify({flow: id, reason: 'killed via dashboard'}) });
  refresh();
}

// WebSocket for live updates.
function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/dashboard/ws');
  ws.onmessage = function(e) {
    try {
      const entry = JSON.parse(e.data);
      const feed = document.getElementById('live-feed');
      const cls = 'kind-' + (entry.kind || '');
      const div = document.createElement('div');
      div.className = 'feed-entry';
      div.innerHTML = '[' + esc(entry.ts) + '] flow=' + esc(entry.flow_id||'-') +
        ' <span class="' + cls + '">' + esc(entry.kind) + '</span>';
      feed.insertBefore(div, feed.firstChild);
      while (feed.children.length > 100) feed.removeChild(feed.lastChild);
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}

refresh();
setInterval(refresh, 5000);
connectWS();
</script>
</body>
</html>`
