package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPJudge posts submissions to a remote sandbox service.
//
// The request body is the JSON Submission with the timeout in seconds;
// the response body is a JSON Result. Any non-2xx status is treated as
// the judge being unavailable.
type HTTPJudge struct {
	url    string
	client *http.Client
	header http.Header
}

// NewHTTPJudge creates a judge for the sandbox at url. A nil client uses
// one with a 60 second timeout.
func NewHTTPJudge(url string, client *http.Client) *HTTPJudge {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPJudge{url: url, client: client, header: http.Header{}}
}

// SetHeader adds a header sent with every request, such as an API token.
func (j *HTTPJudge) SetHeader(key, value string) {
	j.header.Set(key, value)
}

type httpSubmission struct {
	Code           string  `json:"code"`
	Input          string  `json:"input"`
	Expected       string  `json:"expected"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Check implements Judge.
func (j *HTTPJudge) Check(ctx context.Context, sub Submission) (Result, error) {
	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	body, err := json.Marshal(httpSubmission{
		Code:           sub.Code,
		Input:          sub.Input,
		Expected:       sub.Expected,
		TimeoutSeconds: timeout.Seconds(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range j.header {
		req.Header[k] = v
	}

	resp, err := j.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrJudgeUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("%w: decode result: %v", ErrJudgeUnavailable, err)
	}
	switch result.Verdict {
	case Passed, WrongAnswer, TimedOut, RuntimeError:
	default:
		return Result{}, fmt.Errorf("%w: unknown verdict %q", ErrJudgeUnavailable, result.Verdict)
	}
	return result, nil
}
