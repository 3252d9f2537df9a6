package engine

import (
	"encoding/json"
	"time"

	"github.com/seantiz/examlens/internal/model"
)

// Outcome is the effect of one status response on one task.
type Outcome struct {
	// Changed is false when the response is a no-op.
	Changed bool
	Task    model.Task
	// Groups is set when an umbrella task's result must be expanded into
	// per-group tasks instead of being stored on the umbrella itself.
	Groups map[string]json.RawMessage
}

// Transition applies a remote status to a task and returns the result. It
// never mutates t and never leaves a terminal status.
func Transition(t model.Task, st model.RemoteStatus, now time.Time) Outcome {
	if model.IsTerminal(t.Status) {
		return Outcome{Task: t}
	}

	switch st.State {
	case model.RemotePending:
		// Only a pending task may stay pending; a processing task never
		// moves back.
		return Outcome{Task: t}

	case model.RemoteProcessing:
		if t.Status == model.StatusProcessing {
			return Outcome{Task: t}
		}
		t.Status = model.StatusProcessing
		return Outcome{Changed: true, Task: t}

	case model.RemoteSuccess:
		res := model.DecodeResult(st.Result)
		switch {
		case res.Kind == model.ResultAppError:
			t.Fail(model.ErrorKindApplication, res.Message, now)
			t.Result = res.Payload
		case res.Kind == model.ResultMultiGroup && t.IsUmbrella():
			return Outcome{Changed: true, Task: t, Groups: res.Groups}
		default:
			t.Succeed(res.Payload, now)
		}
		return Outcome{Changed: true, Task: t}

	case model.RemoteFailure:
		msg := st.Error
		if msg == "" {
			msg = "remote job failed"
		}
		t.Fail(model.ErrorKindRemote, msg, now)
		return Outcome{Changed: true, Task: t}

	case model.RemoteRevoked:
		t.Fail(model.ErrorKindTerminated, model.MsgTerminated, now)
		return Outcome{Changed: true, Task: t}

	default:
		t.Fail(model.ErrorKindUnknownStatus, model.MsgUnknownStatus, now)
		return Outcome{Changed: true, Task: t}
	}
}
