package calls

import "parallel-dialer/internal/amd"

// Disposition is the application-level outcome derived from the terminal
// provider status plus the AMD result. Inference runs in the background
// after the webhook response has already been acknowledged.
type Disposition string

const (
	DispositionAnswered     Disposition = "answered"
	DispositionVoicemail    Disposition = "voicemail"
	DispositionDisconnected Disposition = "disconnected"
	DispositionBusy         Disposition = "busy"
	DispositionNoAnswer     Disposition = "no_answer"
	DispositionFailed       Disposition = "failed"
	DispositionUnknown      Disposition = "unknown"
)

// Infer maps a terminal status and AMD classification to a disposition.
func Infer(status Status, amdResult amd.Result) Disposition {
	switch status {
	case StatusCompleted:
		switch amdResult {
		case amd.ResultMachine:
			return DispositionVoicemail
		case amd.ResultFax:
			return DispositionDisconnected
		default:
			return DispositionAnswered
		}
	case StatusBusy:
		return DispositionBusy
	case StatusNoAnswer:
		return DispositionNoAnswer
	case StatusCanceled, StatusFailed:
		return DispositionFailed
	default:
		return DispositionUnknown
	}
}
