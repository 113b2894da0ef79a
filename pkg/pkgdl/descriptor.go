// Package pkgdl implements the Downloader State Machine (DSM): the
// outer driver that orchestrates initialization, info retrieval,
// download start, incremental parse/store, error funneling and
// teardown of a single package download, pushing bytes through a
// pkg/dwl.Parser and reporting progress through an event sink.
package pkgdl

// UpdateKind selects which pair of state/result callbacks a run
// reports through: firmware or software component update.
type UpdateKind uint8

const (
	UpdateKindFirmware UpdateKind = iota
	UpdateKindSoftware
)

func (k UpdateKind) String() string {
	if k == UpdateKindSoftware {
		return "software"
	}
	return "firmware"
}

// Descriptor carries the package metadata for one run (spec §3
// "Package metadata").
type Descriptor struct {
	URI          string
	Size         uint64
	Kind         UpdateKind
	Resume       bool
	ResumeOffset uint64
}

// PackageInfo is what get_info reports back once the host has reached
// the remote source (spec §4.1 "INFO").
type PackageInfo struct {
	Size uint64
}

// UpdateState is the set of states the core persists via
// set_fw_state/set_sw_state (spec §6).
type UpdateState uint8

const (
	UpdateStateIdle UpdateState = iota
	UpdateStateDownloading
	UpdateStateDownloaded
	UpdateStateUpdating
)

func (s UpdateState) String() string {
	switch s {
	case UpdateStateDownloading:
		return "downloading"
	case UpdateStateDownloaded:
		return "downloaded"
	case UpdateStateUpdating:
		return "updating"
	default:
		return "idle"
	}
}

// Callbacks is the capability bundle the host supplies to run (spec
// §4.1, §9 "Callback table"). Every member is required; Validate
// reports the first missing one as a programmer error distinct from a
// runtime Fault.
type Callbacks struct {
	InitDownload  func(uri string) error
	GetInfo       func() (PackageInfo, error)
	SetFwState    func(UpdateState) error
	SetFwResult   func(ResultKind) error
	SetSwState    func(UpdateState) error
	SetSwResult   func(ResultKind) error
	StartDownload func(startOffset uint64) error
	StoreRange    func(data []byte) error
	EndDownload   func() error
}

// Validate returns an error naming the first missing required
// callback. Call this before Run; a missing callback is a
// configuration mistake, never surfaced as a runtime Fault.
func (c *Callbacks) Validate() error {
	switch {
	case c.InitDownload == nil:
		return missingCallback("init_download")
	case c.GetInfo == nil:
		return missingCallback("get_info")
	case c.SetFwState == nil:
		return missingCallback("set_fw_state")
	case c.SetFwResult == nil:
		return missingCallback("set_fw_result")
	case c.SetSwState == nil:
		return missingCallback("set_sw_state")
	case c.SetSwResult == nil:
		return missingCallback("set_sw_result")
	case c.StartDownload == nil:
		return missingCallback("start_download")
	case c.StoreRange == nil:
		return missingCallback("store_range")
	case c.EndDownload == nil:
		return missingCallback("end_download")
	}
	return nil
}

func (c *Callbacks) setState(kind UpdateKind, state UpdateState) error {
	if kind == UpdateKindSoftware {
		return c.SetSwState(state)
	}
	return c.SetFwState(state)
}

func (c *Callbacks) setResult(kind UpdateKind, result ResultKind) error {
	if kind == UpdateKindSoftware {
		return c.SetSwResult(result)
	}
	return c.SetFwResult(result)
}
