package app

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindbot/pkg/logx"
)

// notifier reports lifecycle to systemd. Outside a unit every call is a
// silent no-op.
type notifier struct {
	log      logx.Logger
	watchdog time.Duration
}

func newNotifier(log logx.Logger) *notifier {
	n := &notifier{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		n.watchdog = d
		log.Info("systemd watchdog enabled", logx.Duration("timeout", d))
	}
	return n
}

func (n *notifier) notify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *notifier) ready()    { n.notify(daemon.SdNotifyReady) }
func (n *notifier) stopping() { n.notify(daemon.SdNotifyStopping) }

// ping feeds the watchdog from the scheduler loop. A stuck loop stops the
// pings and systemd restarts the unit, so WatchdogSec must exceed the
// scheduler's max interval.
func (n *notifier) ping() {
	if n.watchdog <= 0 {
		return
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}

// checkInterval warns when ticks are too sparse for the watchdog.
func (n *notifier) checkInterval(maxInterval time.Duration) {
	if n.watchdog > 0 && maxInterval*2 > n.watchdog {
		n.log.Warn("scheduler max interval too long for systemd watchdog",
			logx.Duration("max_interval", maxInterval), logx.Duration("watchdog", n.watchdog))
	}
}
