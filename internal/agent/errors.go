package agent

import "errors"

// ErrPeerUnreachable names a failure to dial the relay or the target. The
// pool does not return it: a failed relay dial is logged and retried after
// Options.ReplaceDelay with no attempt limit, and a failed target dial is
// logged and closes the consumed pool member.
var ErrPeerUnreachable = errors.New("agent: peer unreachable")
