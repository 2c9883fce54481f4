package frame

// StreamID идентификатор стрима. Значение занимает 31 бит, старший бит
// октетов на проводе зарезервирован и при декодировании маскируется.
// Ноль адресует соединение целиком.
type StreamID uint32

const MaxStreamID StreamID = 1<<31 - 1

func (id StreamID) Valid() bool { return id <= MaxStreamID }

func (id StreamID) ClientInitiated() bool { return id != 0 && id&1 == 1 }
func (id StreamID) ServerInitiated() bool { return id != 0 && id&1 == 0 }
