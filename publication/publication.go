//go:build unix

package publication

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/termlog/counters"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/telemetry"
	"github.com/rs/zerolog/log"
)

// Params binds a publication to resources already allocated by a conductor.
type Params struct {
	Channel                string
	StreamID               int32
	SessionID              int32
	RegistrationID         int64
	OriginalRegistrationID int64

	RawLog        *logbuffer.MappedRawLog
	PositionLimit *counters.Counter
	ChannelStatus *counters.Counter

	// OnMaxPosition is invoked once, the first time an offer hits the end of
	// the representable stream.
	OnMaxPosition func(*Publication)
}

// Publication appends messages to one stream. Offers may be made from
// several goroutines concurrently; the log tails arbitrate between them.
type Publication struct {
	conductor Conductor

	channel                string
	streamID               int32
	sessionID              int32
	registrationID         int64
	originalRegistrationID int64

	rawLog        *logbuffer.MappedRawLog
	meta          *logbuffer.LogMetadata
	appenders     [logbuffer.PartitionCount]*logbuffer.TermAppender
	positionLimit *counters.Counter
	channelStatus *counters.Counter

	codec               logbuffer.PositionCodec
	maxPossiblePosition int64
	maxMessageLength    int32
	maxPayloadLength    int32

	closed          atomic.Bool
	onMaxPosition   func(*Publication)
	maxPositionOnce sync.Once

	outcomes [numStatuses]telemetry.Counter
}

// NewPublication builds a publication over a mapped log. The log's metadata
// must already be initialised.
func NewPublication(conductor Conductor, params Params) (*Publication, error) {
	if params.RawLog == nil {
		return nil, fmt.Errorf("publication requires a mapped log")
	}
	if params.PositionLimit == nil {
		return nil, fmt.Errorf("publication requires a position limit counter")
	}

	meta := params.RawLog.Metadata()
	termLength := params.RawLog.TermLength()
	maxMessageLength := logbuffer.MaxMessageLength(termLength)

	p := &Publication{
		conductor:              conductor,
		channel:                params.Channel,
		streamID:               params.StreamID,
		sessionID:              params.SessionID,
		registrationID:         params.RegistrationID,
		originalRegistrationID: params.OriginalRegistrationID,
		rawLog:                 params.RawLog,
		meta:                   meta,
		positionLimit:          params.PositionLimit,
		channelStatus:          params.ChannelStatus,
		codec:                  logbuffer.NewPositionCodec(termLength, meta.InitialTermID()),
		maxPossiblePosition:    logbuffer.MaxPossiblePosition(termLength),
		maxMessageLength:       maxMessageLength,
		maxPayloadLength:       maxMessageLength - logbuffer.HeaderLength,
		onMaxPosition:          params.OnMaxPosition,
	}
	for i := range p.appenders {
		p.appenders[i] = logbuffer.NewTermAppender(params.RawLog.Term(i), meta, i)
	}
	for s := NotConnected; s < numStatuses; s++ {
		p.outcomes[s] = telemetry.OfferOutcomesTotal.With(s.String())
	}

	return p, nil
}

// Offer appends msg as a single message.
func (p *Publication) Offer(msg []byte) (Result, error) {
	return p.OfferParts(msg)
}

// OfferParts appends the concatenation of parts as a single message.
// A message longer than MaxPayloadLength is rejected with ErrMessageTooLong
// and nothing is written.
func (p *Publication) OfferParts(parts ...[]byte) (Result, error) {
	if p.closed.Load() {
		return p.failure(PublicationClosed), ErrPublicationClosed
	}

	length := 0
	for _, part := range parts {
		length += len(part)
	}
	if length > int(p.maxPayloadLength) {
		return Result{}, fmt.Errorf("%w: %d > %d", ErrMessageTooLong, length, p.maxPayloadLength)
	}

	limit := p.positionLimit.Get()
	termCount := p.meta.ActiveTermCount()
	index := logbuffer.IndexByTermCount(termCount)
	rawTail := p.meta.RawTail(index)
	termOffset := logbuffer.TermOffset(rawTail, p.codec.TermLength())
	termID := logbuffer.TermID(rawTail)
	position := p.codec.ComputePosition(termID, termOffset)

	// Another writer rotated between reading the term count and the tail.
	if termCount != p.codec.TermCount(termID) {
		return p.failure(AdminAction), nil
	}

	if position < limit {
		resultingOffset := p.appenders[index].AppendUnfragmented(p.sessionID, p.streamID, termID, 0, parts...)
		res := p.NewPosition(termCount, termOffset, termID, position, resultingOffset)
		return res, res.Err()
	}

	res := p.BackPressureStatus(position, int32(length))
	return res, res.Err()
}

// NewPosition interprets the offset returned by the term appender. A
// positive offset is the end of the appended frame. Otherwise the term is
// exhausted: if the stream cannot grow any further the result is
// MaxPositionExceeded, else the log is rotated and the caller must retry.
func (p *Publication) NewPosition(termCount, termOffset, termID int32, position int64, resultingOffset int32) Result {
	if resultingOffset > 0 {
		return Success(position - int64(termOffset) + int64(resultingOffset))
	}

	if position+int64(termOffset) > p.maxPossiblePosition {
		p.reachedMaxPosition(position)
		return p.failure(MaxPositionExceeded)
	}

	nextTermID, rotated := logbuffer.RotateLog(p.meta, termCount, termID)
	if rotated {
		telemetry.TermRotationsTotal.Inc()
		log.Debug().
			Int32("stream_id", p.streamID).
			Int32("session_id", p.sessionID).
			Int32("term_id", nextTermID).
			Int32("term_count", termCount+1).
			Msg("Rotated log")
	}
	return p.failure(AdminAction)
}

// BackPressureStatus classifies an offer that could not proceed because the
// stream position reached the flow-control limit. Running out of positions
// takes priority over the connection state.
func (p *Publication) BackPressureStatus(position int64, messageLength int32) Result {
	if position+int64(messageLength) >= p.maxPossiblePosition {
		p.reachedMaxPosition(position)
		return p.failure(MaxPositionExceeded)
	}

	if p.meta.IsConnected() {
		return p.failure(BackPressured)
	}

	return p.failure(NotConnected)
}

func (p *Publication) failure(status Status) Result {
	p.outcomes[status].Inc()
	return Failure(status)
}

func (p *Publication) reachedMaxPosition(position int64) {
	p.maxPositionOnce.Do(func() {
		log.Warn().
			Str("channel", p.channel).
			Int32("stream_id", p.streamID).
			Int32("session_id", p.sessionID).
			Int64("position", position).
			Int64("max_position", p.maxPossiblePosition).
			Msg("Publication reached max position")
		if p.onMaxPosition != nil {
			p.onMaxPosition(p)
		}
	})
}

// Position returns the stream position the next message would be appended at.
func (p *Publication) Position() (int64, error) {
	if p.closed.Load() {
		return 0, ErrPublicationClosed
	}
	return p.currentPosition(), nil
}

// PositionLimit returns the flow-control ceiling currently set by the driver.
func (p *Publication) PositionLimit() (int64, error) {
	if p.closed.Load() {
		return 0, ErrPublicationClosed
	}
	return p.positionLimit.Get(), nil
}

// IsConnected reports whether the driver sees a live consumer.
func (p *Publication) IsConnected() bool {
	return !p.closed.Load() && p.meta.IsConnected()
}

// ChannelStatus returns the channel status counter value, or
// counters.ChannelStatusErrored when no status counter is bound.
func (p *Publication) ChannelStatus() int64 {
	if p.closed.Load() || p.channelStatus == nil {
		return counters.ChannelStatusErrored
	}
	return p.channelStatus.Get()
}

// Close releases the publication through its conductor. Offers made after
// Close return PublicationClosed.
func (p *Publication) Close() error {
	if p.conductor == nil {
		p.markClosed()
		return nil
	}
	return p.conductor.ClosePublication(p)
}

// markClosed flips the closed flag and reports whether this call did it.
func (p *Publication) markClosed() bool {
	return p.closed.CompareAndSwap(false, true)
}

// IsClosed reports whether Close has been called.
func (p *Publication) IsClosed() bool { return p.closed.Load() }

func (p *Publication) Channel() string { return p.channel }
func (p *Publication) StreamID() int32 { return p.streamID }
func (p *Publication) SessionID() int32 { return p.sessionID }
func (p *Publication) RegistrationID() int64 { return p.registrationID }
func (p *Publication) OriginalRegistrationID() int64 { return p.originalRegistrationID }
func (p *Publication) InitialTermID() int32 { return p.codec.InitialTermID() }
func (p *Publication) TermBufferLength() int32 { return p.codec.TermLength() }
func (p *Publication) PositionBitsToShift() int { return p.codec.PositionBitsToShift() }
func (p *Publication) MaxPossiblePosition() int64 { return p.maxPossiblePosition }
func (p *Publication) MaxMessageLength() int32 { return p.maxMessageLength }
func (p *Publication) MaxPayloadLength() int32 { return p.maxPayloadLength }
func (p *Publication) PositionLimitID() int32 { return p.positionLimit.ID() }

// IsOriginal reports whether this publication created the log rather than
// joining one created by an earlier registration.
func (p *Publication) IsOriginal() bool {
	return p.registrationID == p.originalRegistrationID
}

// ChannelStatusID returns the channel status counter id, or -1 when unbound.
func (p *Publication) ChannelStatusID() int32 {
	if p.channelStatus == nil {
		return -1
	}
	return p.channelStatus.ID()
}

func (p *Publication) currentPosition() int64 {
	termCount := p.meta.ActiveTermCount()
	rawTail := p.meta.RawTail(logbuffer.IndexByTermCount(termCount))
	termOffset := logbuffer.TermOffset(rawTail, p.codec.TermLength())
	return p.codec.ComputePosition(logbuffer.TermID(rawTail), termOffset)
}
