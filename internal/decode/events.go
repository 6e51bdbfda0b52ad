package decode

import "fmt"

// EventKind classifies control messages travelling alongside stream data.
type EventKind int

const (
	EventStreamStart EventKind = iota
	EventCaps
	EventSegment
	EventTag
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventStreamStart:
		return "stream-start"
	case EventCaps:
		return "caps"
	case EventSegment:
		return "segment"
	case EventTag:
		return "tag"
	case EventOther:
		return "other"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// TagBitrate is the tag key for the stream bit rate in bits/s.
const TagBitrate = "bitrate"

// Event is one control message. Tags is set for EventTag; Name is a free-form
// label for EventOther, used only in logs.
type Event struct {
	Kind EventKind
	Name string
	Tags map[string]string
}

// StartState tracks the stream-start sequence. Some sources announce the
// stream twice, once while probing and once when playback really begins, and
// forwarding control messages after the first announcement confuses
// consumers that are still reconfiguring. Control messages therefore pass
// only in Active.
type StartState int

const (
	StartNotStarted StartState = iota
	StartStarted
	StartActive
)

func (s StartState) String() string {
	switch s {
	case StartNotStarted:
		return "not-started"
	case StartStarted:
		return "started"
	case StartActive:
		return "active"
	}
	return fmt.Sprintf("StartState(%d)", int(s))
}

// SinkEvent applies the forwarding policy to a control message arriving with
// the input stream. A stream-start is forwarded exactly once; the second
// occurrence unlocks forwarding of the remaining kinds. Tags are never
// forwarded directly: they merge into the decoder's tag set and ride out
// ahead of the next emitted frame.
func (d *Decoder) SinkEvent(ev Event) error {
	switch ev.Kind {
	case EventStreamStart:
		switch d.startState {
		case StartNotStarted:
			d.startState = StartStarted
			d.log.Info("stream start forwarded")
			return d.down.Event(ev)
		case StartStarted:
			d.startState = StartActive
			d.log.Info("stream restarted, control events unlocked")
			return nil
		default:
			d.log.Debug("extra stream start dropped")
			return nil
		}
	case EventTag:
		d.mergeTags(ev.Tags)
		return nil
	default:
		if d.startState == StartActive {
			return d.down.Event(ev)
		}
		d.log.Debug("event held", "kind", ev.Kind, "state", d.startState)
		return nil
	}
}

// SrcEvent forwards a consumer-originated event back to the source, subject
// to the same start gating. It reports whether the event was forwarded.
func (d *Decoder) SrcEvent(ev Event) (bool, error) {
	if d.startState != StartActive || d.upstream == nil {
		return false, nil
	}
	return true, d.upstream(ev)
}

// mergeTags folds incoming tags into the decoder's set. Until the start
// sequence completes existing values win, so early probing tags cannot
// clobber values learned from the stream itself; afterwards new values
// replace old ones.
func (d *Decoder) mergeTags(tags map[string]string) {
	if len(tags) == 0 {
		return
	}
	if d.tags == nil {
		d.tags = make(map[string]string)
	}
	keep := d.startState != StartActive
	for k, v := range tags {
		if keep {
			if _, ok := d.tags[k]; ok {
				continue
			}
		}
		d.tags[k] = v
	}
	d.tagsChanged = true
}

// flushTags sends the merged tag set downstream as a single tag event. It is
// called just before a frame is emitted so consumers see metadata no later
// than the audio it describes.
func (d *Decoder) flushTags() {
	if !d.tagsChanged || d.startState != StartActive {
		return
	}
	tags := make(map[string]string, len(d.tags))
	for k, v := range d.tags {
		tags[k] = v
	}
	if err := d.down.Event(Event{Kind: EventTag, Tags: tags}); err != nil {
		d.log.Warn("tag event rejected", "error", err)
	}
	d.tagsChanged = false
}
