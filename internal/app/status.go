package app

// Status is a point-in-time operational snapshot.
type Status struct {
	Connected    bool   `json:"connected"`
	Online       bool   `json:"online"`
	ChannelState string `json:"channel_state"`
	WorkerActive bool   `json:"worker_active"`
	Attempts     int    `json:"attempts"`
	Unread       int    `json:"unread"`
	Total        int    `json:"total"`
}

func (a *App) Status() Status {
	return Status{
		Connected:    a.sess.Connected(),
		Online:       a.mon.Online(),
		ChannelState: string(a.sel.State()),
		WorkerActive: a.reg.Active(),
		Attempts:     a.reg.Attempts(),
		Unread:       a.disp.Store().Unread(),
		Total:        a.disp.Store().Len(),
	}
}
