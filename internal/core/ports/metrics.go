package ports

// RealtimeMetrics receives the observable events of the realtime core.
type RealtimeMetrics interface {
	SessionOpened(authenticated bool)
	SessionClosed(authenticated bool)
	SubscriptionsChanged(delta int)
	FrameReceived(command string)
	AuthOutcome(outcome string)
	Delivered(kind string, sessions int)
	Dropped(kind string)
	SlowConsumer()
	NotificationQueued()
	NotificationDropped(reason string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(bool)         {}
func (NopMetrics) SessionClosed(bool)         {}
func (NopMetrics) SubscriptionsChanged(int)   {}
func (NopMetrics) FrameReceived(string)       {}
func (NopMetrics) AuthOutcome(string)         {}
func (NopMetrics) Delivered(string, int)      {}
func (NopMetrics) Dropped(string)             {}
func (NopMetrics) SlowConsumer()              {}
func (NopMetrics) NotificationQueued()        {}
func (NopMetrics) NotificationDropped(string) {}
