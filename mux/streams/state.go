package streams

// State - состояние стрима по формальной машине протокола.
type State uint8

const (
	StateIdle State = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	// StateHalfClosedLocal - мы закончили отправку, прием продолжается.
	StateHalfClosedLocal
	// StateHalfClosedRemote - пир закончил отправку.
	StateHalfClosedRemote
	StateClosed
)

var stateNames = [...]string{
	"idle",
	"reserved-local",
	"reserved-remote",
	"open",
	"half-closed-local",
	"half-closed-remote",
	"closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
