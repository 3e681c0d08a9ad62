package api

import (
	"errors"
	"net/http"

	"github.com/ignite/comms-planner/internal/pkg/httputil"
	"github.com/ignite/comms-planner/internal/service/constraint"
	"github.com/ignite/comms-planner/internal/service/occurrence"
	"github.com/ignite/comms-planner/internal/service/recurrence"
	"github.com/ignite/comms-planner/internal/service/series"
)

// errorMapping ties an engine error to its HTTP status and stable code.
// Order matters: more specific errors wrap more general ones.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{recurrence.ErrInvalidRule, http.StatusBadRequest, "invalid_rule"},
	{occurrence.ErrBulkDateEditNotAllowed, http.StatusBadRequest, "bulk_date_edit_not_allowed"},
	{occurrence.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{constraint.ErrQuotaExceeded, http.StatusConflict, "quota_exceeded"},
	{constraint.ErrTooManyOccurrences, http.StatusUnprocessableEntity, "too_many_occurrences"},
	{constraint.ErrDateRange, http.StatusUnprocessableEntity, "date_out_of_range"},
	{occurrence.ErrForbidden, http.StatusForbidden, "forbidden"},
	{series.ErrNotFound, http.StatusNotFound, "not_found"},
	{series.ErrNotAHead, http.StatusConflict, "not_a_head"},
	{series.ErrSeriesBusy, http.StatusConflict, "series_busy"},
	{series.ErrMalformedSeries, http.StatusConflict, "malformed_series"},
}

// respondError writes err with the status its kind maps to. Unknown errors
// are logged and answered with a generic 500.
func respondError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			httputil.ErrorCode(w, m.status, m.code, err.Error())
			return
		}
	}
	httputil.InternalError(w, err)
}
