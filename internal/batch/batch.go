package batch

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result represents the result of a single operation in a batch
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "success" or "error"
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Err is the original error, kept for errors.Is checks.
	Err error `json:"-"`
}

// Summary represents the aggregated results of a batch operation
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Func processes one item and returns a short description of what it did.
type Func func(ctx context.Context, id string) (string, error)

// Run calls fn for every id with at most limit calls in flight and returns the
// results in the order of ids. A limit below one means one at a time. Items not
// yet started when ctx is done fail with the context error.
func Run(ctx context.Context, ids []string, limit int, fn Func) Summary {
	if limit < 1 {
		limit = 1
	}

	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = NewErrorResult(id, err)
				return nil
			}

			res, err := fn(ctx, id)
			if err != nil {
				results[i] = NewErrorResult(id, err)
			} else {
				results[i] = NewSuccessResult(id, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Summarize(results)
}

// Summarize counts successes and failures.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:   len(results),
		Results: results,
	}
	if s.Results == nil {
		s.Results = []Result{}
	}

	for _, r := range results {
		if r.Status == StatusSuccess {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// Failures returns the failed results.
func (s Summary) Failures() []Result {
	var failed []Result
	for _, r := range s.Results {
		if r.Status != StatusSuccess {
			failed = append(failed, r)
		}
	}
	return failed
}

// String renders the summary as indented JSON.
func (s Summary) String() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// NewSuccessResult creates a success result
func NewSuccessResult(id, message string) Result {
	return Result{
		ID:     id,
		Status: StatusSuccess,
		Result: message,
	}
}

// NewErrorResult creates an error result
func NewErrorResult(id string, err error) Result {
	return Result{
		ID:     id,
		Status: StatusError,
		Error:  err.Error(),
		Err:    err,
	}
}
