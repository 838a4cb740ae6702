//go:build unix

package publication

import (
	"fmt"

	"github.com/maxpert/termlog/counters"
	"github.com/maxpert/termlog/logbuffer"
)

// DriverView writes the fields the driver owns for one log: the connection
// flag, transport count and flow-control limit. It goes through the
// conductor's own mapping of the log, the same way an out-of-process driver
// would see it.
type DriverView struct {
	meta          *logbuffer.LogMetadata
	positionLimit *counters.Counter
	channelStatus *counters.Counter
}

// Driver returns the driver-side view of the log behind p.
func (c *ClientConductor) Driver(p *Publication) (*DriverView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shared, ok := c.byReg[p.registrationID]
	if !ok {
		return nil, fmt.Errorf("%w: registration %d", ErrPublicationClosed, p.registrationID)
	}

	limit, err := c.counters.Counter(shared.positionLimitID)
	if err != nil {
		return nil, err
	}
	status, err := c.counters.Counter(shared.channelStatusID)
	if err != nil {
		return nil, err
	}
	return &DriverView{
		meta:          shared.rawLog.Metadata(),
		positionLimit: limit,
		channelStatus: status,
	}, nil
}

// SetConnected publishes whether a consumer is attached.
func (d *DriverView) SetConnected(connected bool) {
	d.meta.SetConnected(connected)
	if connected {
		d.meta.SetActiveTransportCount(1)
	} else {
		d.meta.SetActiveTransportCount(0)
	}
}

// SetPositionLimit stores the flow-control limit.
func (d *DriverView) SetPositionLimit(limit int64) {
	d.positionLimit.Set(limit)
}

// ProposePositionLimit raises the limit if limit is ahead of it.
func (d *DriverView) ProposePositionLimit(limit int64) bool {
	return d.positionLimit.ProposeMax(limit)
}

// SetChannelStatus stores the channel status.
func (d *DriverView) SetChannelStatus(status int64) {
	d.channelStatus.Set(status)
}

// Metadata exposes the driver-side metadata accessor.
func (d *DriverView) Metadata() *logbuffer.LogMetadata { return d.meta }
