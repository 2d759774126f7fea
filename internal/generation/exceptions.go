package generation

import (
	"context"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

// ExceptionSet maps calendar dates (persistence.DateLayout) to the exception
// registered for that date.
type ExceptionSet map[string]persistence.Exception

// For returns the exception registered for the calendar date of day.
func (s ExceptionSet) For(day time.Time) (persistence.Exception, bool) {
	exc, ok := s[day.Format(persistence.DateLayout)]
	return exc, ok
}

// ExceptionResolver loads per-date overrides with one range query per definition.
type ExceptionResolver struct {
	exceptions persistence.ExceptionRepository
}

// NewExceptionResolver constructs a resolver over the exception repository.
func NewExceptionResolver(exceptions persistence.ExceptionRepository) *ExceptionResolver {
	return &ExceptionResolver{exceptions: exceptions}
}

// Load returns the exceptions of definitionID dated within [from, to].
func (r *ExceptionResolver) Load(ctx context.Context, definitionID string, from, to time.Time) (ExceptionSet, error) {
	if r == nil || r.exceptions == nil {
		return ExceptionSet{}, nil
	}
	list, err := r.exceptions.ListExceptions(ctx, definitionID, from, to)
	if err != nil {
		return nil, err
	}
	set := make(ExceptionSet, len(list))
	for _, exc := range list {
		set[exc.ExceptionDate.Format(persistence.DateLayout)] = exc
	}
	return set, nil
}
