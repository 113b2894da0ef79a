package pkgdl

import (
	"errors"
	"log/slog"

	"github.com/oma-lwm2m/pkgdl/pkg/dwl"
)

// state is the DSM's own outer state (spec §3 "Downloader state"),
// distinct from the parser's subsection state it drives.
type state uint8

const (
	stateInit state = iota
	stateInfo
	stateDownload
	statePARSE
	stateStore
	stateError
	stateEnd
)

// Downloader is the Downloader State Machine (DSM). One instance is
// created per run and torn down at END, the same one-run lifecycle as
// a CANopen SDO client transfer.
type Downloader struct {
	logger *slog.Logger
	crc32  dwl.CRC32Func
	sha1   dwl.HashBackend
	sink   EventSink

	state      state
	descriptor Descriptor
	callbacks  *Callbacks
	parser     *dwl.Parser

	offset        uint64
	storageOffset uint64
	lastPercent   int
	result        ResultKind
}

// NewDownloader creates a Downloader bound to the host's crypto
// capabilities and event sink. crc32Fn and sha1 are forwarded
// unchanged to the dwl.Parser it drives; sink may be nil, in which
// case events are discarded; logger may be nil, in which case
// slog.Default() is used.
func NewDownloader(crc32Fn dwl.CRC32Func, sha1 dwl.HashBackend, sink EventSink, logger *slog.Logger) *Downloader {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{crc32: crc32Fn, sha1: sha1, sink: sink, logger: logger}
}

// Run drives the machine from INIT through DOWNLOAD and returns once
// it is waiting on stream bytes in PARSE (spec §4.1 INIT/INFO/DOWNLOAD
// rows), or once a callback failure has already carried it all the
// way to END (returned as a *Fault). A missing callback is reported
// before the machine is entered, with no END and no *Fault. Callers
// supply ReceiveData with bytes afterwards only when Run returned nil.
func (d *Downloader) Run(descriptor Descriptor, callbacks *Callbacks) error {
	if err := callbacks.Validate(); err != nil {
		return err
	}
	d.descriptor = descriptor
	d.callbacks = callbacks
	d.parser = dwl.NewParser(d.crc32, d.sha1, d.logger)
	d.offset = 0
	d.storageOffset = 0
	d.lastPercent = -1
	d.result = ResultNormal

	d.state = stateInit
	d.logger.Debug("pkgdl: init", slog.String("uri", descriptor.URI))
	if err := callbacks.InitDownload(descriptor.URI); err != nil {
		return d.abort(classifyCallbackError(err), "init_download failed", err)
	}

	d.state = stateInfo
	info, err := callbacks.GetInfo()
	if err != nil {
		return d.abort(classifyCallbackError(err), "get_info failed", err)
	}
	d.sink.Emit(Event{Kind: EventDetails, Size: info.Size})
	if err := d.parser.Begin(); err != nil {
		return d.abort(resultForDWLFault(mustFault(err)), "parser failed to start", err)
	}

	d.state = stateDownload
	if err := callbacks.setState(descriptor.Kind, UpdateStateDownloading); err != nil {
		return d.abort(classifyCallbackError(err), "set state downloading failed", err)
	}
	d.sink.Emit(Event{Kind: EventDownloadStart})

	startOffset := uint64(0)
	if descriptor.Resume {
		startOffset = descriptor.ResumeOffset
	}
	d.offset = startOffset
	if err := callbacks.StartDownload(startOffset); err != nil {
		return d.abort(classifyCallbackError(err), "start_download failed", err)
	}

	d.state = statePARSE
	d.logger.Debug("pkgdl: awaiting stream bytes")
	return nil
}

// ReceiveData feeds newly arrived stream bytes to the parser,
// consuming all of them before returning (spec §4.1 "receive_data").
// It drives PARSE -> STORE -> PARSE internally, calling store_range
// for every BINA payload segment as soon as it is parsed (before the
// CRC and signature are checked), and finalizes the run (PARSE ->
// ERROR -> END or PARSE -> END) if the parser faults or completes.
func (d *Downloader) ReceiveData(data []byte) error {
	if d.state != statePARSE {
		return fault(ResultCommunicationError, "receive_data called outside PARSE", nil)
	}

	for len(data) > 0 {
		result, err := d.parser.Feed(data)
		data = data[result.Consumed:]
		d.advanceOffset(result.Consumed)

		if err != nil {
			return d.abort(resultForDWLFault(mustFault(err)), "parser fault", err)
		}

		if result.StoreBytes != nil {
			d.state = stateStore
			if err := d.callbacks.StoreRange(result.StoreBytes); err != nil {
				return d.abort(classifyCallbackError(err), "store_range failed", err)
			}
			d.storageOffset += uint64(len(result.StoreBytes))
			d.state = statePARSE
		}

		if result.Done {
			return d.finishSuccess()
		}
	}
	return nil
}

// advanceOffset updates offset and emits a download-progress event
// only when the integer percentage changed (spec §4.1 "Progress
// reporting"). A computed percentage above 100, or an offset beyond
// the declared package size, indicates a caller/descriptor mismatch;
// it is logged and ignored rather than surfaced as a spurious event.
func (d *Downloader) advanceOffset(consumed int) {
	if consumed == 0 {
		return
	}
	d.offset += uint64(consumed)
	if d.descriptor.Size == 0 {
		return
	}
	if d.offset > d.descriptor.Size {
		d.logger.Warn("pkgdl: offset exceeds declared package size, ignoring",
			slog.Uint64("offset", d.offset), slog.Uint64("size", d.descriptor.Size))
		return
	}
	percent := int(100 * d.offset / d.descriptor.Size)
	if percent > 100 || percent == d.lastPercent {
		return
	}
	d.lastPercent = percent
	d.sink.Emit(Event{Kind: EventDownloadProgress, Percent: percent})
}

// finishSuccess runs the success leg of END (spec §4.1 END row: emit
// signature-ok, then set fw/sw state downloaded, always emit
// download-end, always call end_download).
func (d *Downloader) finishSuccess() error {
	d.result = ResultNormal
	d.sink.Emit(Event{Kind: EventSignatureOK})
	if err := d.callbacks.setState(d.descriptor.Kind, UpdateStateDownloaded); err != nil {
		d.logger.Warn("pkgdl: set state downloaded failed after successful verification", slog.Any("err", err))
	}
	return d.end()
}

// abort records kind as the run's result and falls through ERROR ->
// END (spec §4.1: "PARSE/STORE | any local fault | ERROR", "ERROR |
// entry | END | log and fall through"). A verify-error additionally
// emits signature-ko (spec §7 "Propagation").
func (d *Downloader) abort(kind ResultKind, reason string, cause error) error {
	d.state = stateError
	d.result = kind
	d.logger.Error("pkgdl: run aborted", slog.String("kind", kind.String()), slog.String("reason", reason))
	if kind == ResultVerifyError {
		d.sink.Emit(Event{Kind: EventSignatureKO})
	}
	return d.end()
}

// end is the terminal action shared by both END paths: exactly one
// download-end event, exactly one end_download call, regardless of
// outcome (spec §8 property 6).
func (d *Downloader) end() error {
	d.state = stateEnd
	d.sink.Emit(Event{
		Kind:       EventDownloadEnd,
		ErrorCode:  d.result.errorCode(),
		ResultKind: d.result,
		Success:    d.result == ResultNormal,
	})
	if err := d.callbacks.setResult(d.descriptor.Kind, d.result); err != nil {
		d.logger.Warn("pkgdl: set result failed", slog.Any("err", err))
	}
	if err := d.callbacks.EndDownload(); err != nil {
		d.logger.Warn("pkgdl: end_download failed", slog.Any("err", err))
	}
	d.parser = nil
	if d.result == ResultNormal {
		return nil
	}
	return fault(d.result, "download failed", nil)
}

// mustFault unwraps the *dwl.Fault a pkg/dwl.Parser always returns
// from Feed/Begin on error; it is never anything else, so a failed
// type assertion here means the parser's own contract broke.
func mustFault(err error) *dwl.Fault {
	var f *dwl.Fault
	if errors.As(err, &f) {
		return f
	}
	return &dwl.Fault{Kind: dwl.FaultCommunicationError, Reason: err.Error()}
}

// Offset reports the total bytes processed so far in the current run.
func (d *Downloader) Offset() uint64 { return d.offset }

// StorageOffset reports the total BINA payload bytes handed to
// store_range so far.
func (d *Downloader) StorageOffset() uint64 { return d.storageOffset }

// Done reports whether the machine is done, for callers that want to
// avoid calling ReceiveData again after END.
func (d *Downloader) Done() bool { return d.state == stateEnd }
