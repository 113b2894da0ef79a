package pkgdl

// EventKind enumerates everything a downloader run (or a caller
// driving the same sink for its own lifecycle hooks) can emit (spec
// §4.1 "Event taxonomy"). Only the first six are produced by the core
// itself; UpdateStart/UpdateSuccess/UpdateFailure exist so a caller
// applying the verified payload can narrate its own progress on the
// same sink instead of inventing a second channel.
type EventKind uint8

const (
	EventDetails EventKind = iota
	EventDownloadStart
	EventDownloadProgress
	EventDownloadEnd
	EventSignatureOK
	EventSignatureKO
	EventUpdateStart
	EventUpdateSuccess
	EventUpdateFailure
)

func (k EventKind) String() string {
	switch k {
	case EventDetails:
		return "details"
	case EventDownloadStart:
		return "download-start"
	case EventDownloadProgress:
		return "download-progress"
	case EventDownloadEnd:
		return "download-end"
	case EventSignatureOK:
		return "signature-ok"
	case EventSignatureKO:
		return "signature-ko"
	case EventUpdateStart:
		return "update-start"
	case EventUpdateSuccess:
		return "update-success"
	case EventUpdateFailure:
		return "update-failure"
	default:
		return "unknown-event"
	}
}

// Event is a single notification pushed to the sink. Only the fields
// relevant to Kind are populated; the zero value of the rest is
// meaningless for that kind.
type Event struct {
	Kind EventKind

	// EventDetails
	Size uint64

	// EventDownloadProgress
	Percent int

	// EventDownloadEnd
	ErrorCode  string
	ResultKind ResultKind
	Success    bool
}

// EventSink receives every Event a run produces. Implementations must
// not block for long: Emit is called synchronously from the same
// logical task driving Run/ReceiveData (spec §5, single-threaded
// cooperative core).
type EventSink interface {
	Emit(Event)
}

// NopSink discards every event. Useful as a default when a caller
// only cares about the returned error.
type NopSink struct{}

func (NopSink) Emit(Event) {}
