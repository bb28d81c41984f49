package zk

/*
The ZXID has two parts: the epoch and a counter. The zxid is a 64-bit number
where the high order 32-bits are the epoch and the low order 32-bits are the
counter. The epoch number represents a change in leadership; the leader
increments the counter to obtain a unique zxid for each applied change.
*/
type ZXID int64

func NewZXID(epoch int32, counter int32) ZXID {
	// Line up the epoch and counter with the high and low 32 bits of the zxid.
	return ZXID(int64(epoch)<<32 | int64(counter))
}

// Epoch returns the leadership epoch from the high 32 bits of the zxid.
func (z ZXID) Epoch() int32 {
	return int32(z >> 32)
}

// Counter returns the per-epoch change counter from the low 32 bits of the zxid.
func (z ZXID) Counter() int32 {
	var maskLow32 ZXID = 0xFFFFFFFF
	return int32(z & maskLow32)
}

// Stat is the metadata attached to a node, returned as an immutable
// snapshot alongside the node's data. Version numbers are monotonically
// non-decreasing across successive reads of the same path while the
// node exists.
type Stat struct {
	// Czxid is the change that caused this node to be created.
	Czxid ZXID
	// Mzxid is the change that last modified this node's data.
	Mzxid ZXID
	// Pzxid is the change that last modified this node's children.
	Pzxid ZXID
	// Ctime is milliseconds from epoch when this node was created.
	Ctime int64
	// Mtime is milliseconds from epoch when this node's data last changed.
	Mtime int64
	// Version counts changes to the data of this node.
	Version int32
	// Cversion counts changes to the children of this node.
	Cversion int32
	// Aversion counts changes to the ACL of this node.
	Aversion int32
	// EphemeralOwner is the session id of the owner if this node is
	// ephemeral, and zero otherwise.
	EphemeralOwner int64
	// DataLength is the length of the data field of this node.
	DataLength int32
	// NumChildren is the number of children of this node.
	NumChildren int32
}

// IsEphemeral reports whether the node is owned by a session and will be
// deleted when that session ends.
func (s *Stat) IsEphemeral() bool {
	return s.EphemeralOwner != 0
}

// ACL grants a set of permissions to an identity under a scheme. This
// client passes ACLs through to the driver unmodified.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

const (
	PermRead int32 = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// WorldACL returns an ACL granting perms to anyone. This is the default
// used when a create call passes no ACL.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}
