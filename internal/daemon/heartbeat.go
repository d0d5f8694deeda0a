package daemon

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/intercom-mesh/intercom/internal/hubclient"
)

// StartHeartbeat schedules a periodic heartbeat to the Hub (spec §4.7: "best
// effort — failures are logged, retried on the next tick, never surfaced").
// Grounded on the teacher's cronjob usage of robfig/cron, using its native
// "@every" duration parsing rather than the teacher's sub-second constantDelay
// helper, since the daemon's interval is never sub-second.
func (d *Daemon) StartHeartbeat(ctx context.Context, overlayIP, daemonURL string) (*cron.Cron, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", d.Cfg.HeartbeatInterval)
	_, err := c.AddFunc(spec, func() {
		d.beat(ctx, overlayIP, daemonURL)
	})
	if err != nil {
		return nil, err
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return c, nil
}

func (d *Daemon) beat(ctx context.Context, overlayIP, daemonURL string) {
	sessions := d.Sessions.List()
	summaries := make([]hubclient.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, hubclient.SessionSummary{
			SessionID: s.ID,
			Project:   s.ProjectID,
			Status:    string(s.Status),
			Summary:   s.Summary,
		})
	}

	err := d.Hub.Heartbeat(ctx, hubclient.HeartbeatRequest{
		MachineID:      d.MachineID,
		OverlayIP:      overlayIP,
		DaemonURL:      daemonURL,
		ActiveSessions: summaries,
	})
	if err != nil {
		d.Logger.Warn("heartbeat failed, will retry next tick", "error", err)
		return
	}
	d.Logger.Debug("heartbeat sent", "sessions", len(summaries))
}
