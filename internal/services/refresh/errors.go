package refresh

import (
	"errors"
	"sort"
	"strings"
)

// ErrRefreshInProgress is returned when a run is requested while another is active.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// UpstreamFetchError reports that the external sources could not supply
// data. States maps each failed state ("" for an all-states fetch) to its
// error.
type UpstreamFetchError struct {
	States map[string]error
}

func (e *UpstreamFetchError) Error() string {
	keys := make([]string, 0, len(e.States))
	for k := range e.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := k
		if label == "" {
			label = "all states"
		}
		parts = append(parts, label+": "+e.States[k].Error())
	}
	return "upstream fetch failed: " + strings.Join(parts, "; ")
}

func (e *UpstreamFetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.States))
	for _, err := range e.States {
		errs = append(errs, err)
	}
	return errs
}
