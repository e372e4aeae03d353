package gateway

import (
	"net/http"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
)

// Stage is one step of the request pipeline. It may read the request and
// annotate rc, then either let the request through or end it.
type Stage interface {
	Name() string
	Process(r *http.Request, rc *RequestContext) Result
}

// Result is a stage verdict. The zero value continues.
type Result struct {
	Status  int
	Code    apperr.Code
	Message string
	Header  http.Header
}

func Continue() Result { return Result{} }

// Reject ends the request with status. The error's code and message become
// the response body.
func Reject(status int, err error, header http.Header) Result {
	return Result{
		Status:  status,
		Code:    apperr.CodeOf(err),
		Message: apperr.MessageOf(err),
		Header:  header,
	}
}

func (r Result) ShortCircuited() bool { return r.Status != 0 }
