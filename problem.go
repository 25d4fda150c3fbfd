package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
)

const problemContentType = "application/problem+json"

// Problem is the structured failure envelope used for every non-validation
// error response. It also implements error, so hooks and handlers can
// return one to choose the status of the failure.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewProblem builds a problem with the standard title for status.
func NewProblem(status int, detail string) *Problem {
	return &Problem{Title: http.StatusText(status), Status: status, Detail: detail}
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("%d %s", p.Status, p.Title)
	}
	return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
}

// ProblemResponse wraps p in a response.
func ProblemResponse(p *Problem) *Response {
	h := http.Header{}
	h.Set("Content-Type", problemContentType)
	return &Response{Status: p.Status, Header: h, Body: p}
}

// withType fills an empty Type from base. An empty base yields "about:blank".
func (p *Problem) withType(base string) *Problem {
	if p.Type != "" {
		return p
	}
	cp := *p
	if base == "" {
		cp.Type = "about:blank"
	} else {
		cp.Type = base + strconv.Itoa(p.Status)
	}
	return &cp
}
