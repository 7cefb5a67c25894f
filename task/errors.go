package task

import "errors"

// ErrDetached is returned by SyncPointValue.Wait when the task being
// joined was detached instead of posting a result.
var ErrDetached = errors.New("fibre: join on detached task")
