package kvstore

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Op is the kind of mutation recorded in the log
type Op uint8

const (
	OpSet    Op = 1
	OpRemove Op = 2
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpRemove:
		return "rm"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Command is a single mutation, the unit stored in one log frame.
// Value is only meaningful for OpSet.
type Command struct {
	Op    Op
	Key   string
	Value string
}

var (
	_ msgp.Marshaler   = (*Command)(nil)
	_ msgp.Unmarshaler = (*Command)(nil)
	_ msgp.Sizer       = (*Command)(nil)
)

func setCommand(key, value string) Command {
	return Command{Op: OpSet, Key: key, Value: value}
}

func removeCommand(key string) Command {
	return Command{Op: OpRemove, Key: key}
}

// number of msgpack array elements for a given op, 0 if op is unknown
func fieldsForOp(op Op) uint32 {
	switch op {
	case OpSet:
		return 3
	case OpRemove:
		return 2
	}
	return 0
}

// MarshalMsg appends msgpack encoding of c to b.
// set is encoded as [op, key, value], remove as [op, key]
func (c *Command) MarshalMsg(b []byte) ([]byte, error) {
	n := fieldsForOp(c.Op)
	if n == 0 {
		return b, &SerializationError{Msg: "unknown op " + c.Op.String()}
	}
	b = msgp.AppendArrayHeader(b, n)
	b = msgp.AppendUint8(b, uint8(c.Op))
	b = msgp.AppendString(b, c.Key)
	if c.Op == OpSet {
		b = msgp.AppendString(b, c.Value)
	}
	return b, nil
}

// UnmarshalMsg decodes c from the beginning of b and returns the remaining bytes
func (c *Command) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, &SerializationError{Msg: "reading array header", Err: err}
	}
	op, b, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return b, &SerializationError{Msg: "reading op", Err: err}
	}
	c.Op = Op(op)
	exp := fieldsForOp(c.Op)
	if exp == 0 {
		return b, &SerializationError{Msg: "unknown op " + c.Op.String()}
	}
	if n != exp {
		return b, &SerializationError{Msg: fmt.Sprintf("%s has %d fields, expected %d", c.Op, n, exp)}
	}
	c.Key, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return b, &SerializationError{Msg: "reading key", Err: err}
	}
	c.Value = ""
	if c.Op == OpSet {
		c.Value, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, &SerializationError{Msg: "reading value", Err: err}
		}
	}
	return b, nil
}

// Msgsize returns an upper bound of the encoded size
func (c *Command) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.Uint8Size + msgp.StringPrefixSize + len(c.Key) + msgp.StringPrefixSize + len(c.Value)
}

// decodeCommand decodes a full frame payload, trailing bytes are an error
func decodeCommand(d []byte) (Command, error) {
	var c Command
	rest, err := c.UnmarshalMsg(d)
	if err != nil {
		return c, err
	}
	if len(rest) > 0 {
		return c, &SerializationError{Msg: fmt.Sprintf("%d trailing bytes after command", len(rest))}
	}
	return c, nil
}
