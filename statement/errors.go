package statement

import "github.com/mevdschee/pgshim/model"

// ErrMsg and ErrCode implement spec.md §7 "Propagation": errmsg/errcode
// prefer the connection's tracked error over whatever the embedded
// library's own error state says, since the engine sometimes
// short-circuits before ever calling the real embedded prepare.
func ErrMsg(conn *model.Connection, embeddedMsg string) string {
	if t := conn.TrackedErrorState(); t != nil {
		return t.Message
	}
	return embeddedMsg
}

// ErrCode returns the tracked error code if one is set, else fallback
// (the embedded library's own primary result code).
func ErrCode(conn *model.Connection, fallback int) (string, int) {
	if t := conn.TrackedErrorState(); t != nil {
		return t.Code, 0
	}
	return "", fallback
}

// ExtendedErrCode mirrors ErrCode for the embedded API's extended result
// code variant and returns exactly what ErrCode returns: (tracked code,
// 0) when a tracked error is set, else ("", fallback).
func ExtendedErrCode(conn *model.Connection, fallback int) (string, int) {
	return ErrCode(conn, fallback)
}

// recordRemoteFailure is defined in engine.go; surfaceIfFallbackFailed
// implements spec.md §7 "kind 2 is reported via the tracked error only
// if no embedded fallback succeeds": call it with the embedded
// fallback's own error after a remote failure has already downgraded
// the statement to pass-through.
func surfaceIfFallbackFailed(conn *model.Connection, fallbackErr error) {
	if fallbackErr == nil {
		return
	}
	conn.SetTrackedError("SQLITE_ERROR", "pgshim: remote execution failed and embedded fallback failed: "+fallbackErr.Error())
}
