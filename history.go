package replog

import "fmt"

type HistoryType int

const (
	HistoryNone HistoryType = iota
	HistoryOutOfProcess
	HistoryInProcess
	HistorySyncClient
	HistorySyncServer
)

// HistoryTypeName returns the human-readable name of a history type. Unknown
// values are named "Unknown".
func HistoryTypeName(typ HistoryType) string {
	switch typ {
	case HistoryNone:
		return "None"
	case HistoryOutOfProcess:
		return "Local out-of-process"
	case HistoryInProcess:
		return "Local in-process"
	case HistorySyncClient:
		return "SyncClient"
	case HistorySyncServer:
		return "SyncServer"
	default:
		return "Unknown"
	}
}

func (v HistoryType) String() string {
	return HistoryTypeName(v)
}

// History receives finalized changesets at commit time.
type History interface {
	Type() HistoryType

	// PrepareChangeset takes ownership of a finalized changeset and returns
	// the version it is recorded under, which must be greater than orig.
	// The data slice is only valid for the duration of the call.
	PrepareChangeset(data []byte, orig Version) (Version, error)
}

// NextVersion is the version that follows orig. It is the only version
// derivation this package performs.
func NextVersion(orig Version) Version {
	if orig == ^Version(0) {
		panic(contractErrf("version space exhausted"))
	}
	return orig + 1
}

type noHistory struct{}

func (noHistory) Type() HistoryType { return HistoryNone }

func (noHistory) PrepareChangeset(data []byte, orig Version) (Version, error) {
	return NextVersion(orig), nil
}

func checkNewVersion(orig, v Version) error {
	if v <= orig {
		return fmt.Errorf("replog: history assigned version %d, which does not follow %d", v, orig)
	}
	return nil
}
