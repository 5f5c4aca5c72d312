package ibgw

import (
	"github.com/tathienbao/brokerhub/internal/status"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Gateway order status literals.
const (
	statusPendingSubmit = "PendingSubmit"
	statusPendingCancel = "PendingCancel"
	statusPreSubmitted  = "PreSubmitted"
	statusSubmitted     = "Submitted"
	statusApiPending    = "ApiPending"
	statusApiCancelled  = "ApiCancelled"
	statusCancelled     = "Cancelled"
	statusFilled        = "Filled"
	statusInactive      = "Inactive"
)

// StatusTable maps the gateway's literal statuses to the common lifecycle.
// PARTIAL never appears here: the gateway reports partial fills as a
// working status with quantity fields, so it is derived by the translator.
func StatusTable() status.Table {
	return status.Table{
		statusPendingSubmit: types.StatusPending,
		statusApiPending:    types.StatusPending,
		statusPreSubmitted:  types.StatusAccepted,
		statusSubmitted:     types.StatusAccepted,
		statusPendingCancel: types.StatusCancelPending,
		statusApiCancelled:  types.StatusCanceled,
		statusCancelled:     types.StatusCanceled,
		statusFilled:        types.StatusExecuted,
		statusInactive:      types.StatusRejected,
	}
}
