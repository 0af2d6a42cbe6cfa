package app

import (
	"time"

	rtsup "respawnbot/internal/runtime/supervisor"
	"respawnbot/internal/scheduler"
)

type healthStatus struct {
	OK          bool                      `json:"ok"`
	Transport   string                    `json:"transport"`
	Uptime      string                    `json:"uptime"`
	Timezone    string                    `json:"timezone"`
	Jobs        []scheduler.Entry         `json:"jobs"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

// health backs /api/health. It only reads snapshots.
func (a *App) health() any {
	h := healthStatus{
		OK:          a.sup != nil && a.sup.Err() == nil,
		Transport:   driverOf(a.cfgm.Get()),
		Timezone:    a.loc.String(),
		Jobs:        a.sched.Entries(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	add := func(name string, sup *rtsup.Supervisor) {
		if sup != nil {
			h.Supervisors[name] = sup.Snapshot()
		}
	}
	add("app", a.sup)
	if a.router != nil {
		add("router", a.router.Supervisor())
	}
	add("notifier", a.notif.Supervisor())
	add("http", a.http.Supervisor())
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		add("transport", sp.Supervisor())
	}
	return h
}
