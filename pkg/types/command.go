package types

import "time"

// type of FSM command
type CommandType uint

const (
	CommandTypePutIfAbsent CommandType = iota + 1
	CommandTypeCompareAndDelete
)

// interface all FSM commands implement
type Command interface {
	Type() CommandType
}

// writes a record only if no live record exists under the key
// a zero TTL means the record never expires on its own
type PutIfAbsentCmd struct {
	Key   string
	Value string
	TTL   time.Duration
}

func (c PutIfAbsentCmd) Type() CommandType { return CommandTypePutIfAbsent }

// deletes a record only if its value still matches
type CompareAndDeleteCmd struct {
	Key      string
	Expected string
}

func (c CompareAndDeleteCmd) Type() CommandType { return CommandTypeCompareAndDelete }
