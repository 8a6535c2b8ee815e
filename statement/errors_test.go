package statement

import (
	"errors"
	"testing"

	"github.com/mevdschee/pgshim/model"
)

func TestErrMsg_PrefersTrackedError(t *testing.T) {
	conn := model.NewConnection("/tmp/x.db")
	if got := ErrMsg(conn, "embedded says ok"); got != "embedded says ok" {
		t.Fatalf("want embedded message when untracked, got %q", got)
	}

	conn.SetTrackedError("SQLITE_NOMEM", "tracked failure")
	if got := ErrMsg(conn, "embedded says ok"); got != "tracked failure" {
		t.Fatalf("want tracked message, got %q", got)
	}

	conn.ClearTrackedError()
	if got := ErrMsg(conn, "embedded says ok"); got != "embedded says ok" {
		t.Fatalf("want embedded message after clear, got %q", got)
	}
}

func TestErrCode_FallsBackWhenUntracked(t *testing.T) {
	conn := model.NewConnection("/tmp/x.db")
	code, fallback := ErrCode(conn, 5)
	if code != "" || fallback != 5 {
		t.Fatalf("want empty code + fallback 5, got %q %d", code, fallback)
	}

	conn.SetTrackedError("SQLITE_BUSY", "busy")
	code, fallback = ErrCode(conn, 5)
	if code != "SQLITE_BUSY" || fallback != 0 {
		t.Fatalf("want tracked code, got %q %d", code, fallback)
	}
}

func TestSurfaceIfFallbackFailed_OnlySetsTrackedErrorOnFailure(t *testing.T) {
	conn := model.NewConnection("/tmp/x.db")

	surfaceIfFallbackFailed(conn, nil)
	if conn.TrackedErrorState() != nil {
		t.Fatalf("expected no tracked error when fallback succeeded")
	}

	surfaceIfFallbackFailed(conn, errors.New("embedded also failed"))
	if conn.TrackedErrorState() == nil {
		t.Fatalf("expected a tracked error once fallback also failed")
	}
}
