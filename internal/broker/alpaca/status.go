// Package alpaca provides the stateless API venue adapter. Every call is a
// plain request/response pair; there is no persistent session to manage and
// concurrent callers are served freely.
package alpaca

import (
	"github.com/tathienbao/brokerhub/internal/status"
	"github.com/tathienbao/brokerhub/internal/types"
)

// StatusTable maps the venue's literal order statuses to the common
// lifecycle. "partially_filled" appears literally here, unlike the gateway
// venue; the translator's derived rule makes both venues agree.
func StatusTable() status.Table {
	return status.Table{
		"pending_new":          types.StatusPending,
		"held":                 types.StatusPending,
		"suspended":            types.StatusPending,
		"new":                  types.StatusAccepted,
		"accepted":             types.StatusAccepted,
		"accepted_for_bidding": types.StatusAccepted,
		"calculated":           types.StatusAccepted,
		"replaced":             types.StatusAccepted,
		"partially_filled":     types.StatusPartial,
		"filled":               types.StatusExecuted,
		"pending_cancel":       types.StatusCancelPending,
		"pending_replace":      types.StatusCancelPending,
		"canceled":             types.StatusCanceled,
		"stopped":              types.StatusCanceled,
		"done_for_day":         types.StatusExpired,
		"expired":              types.StatusExpired,
		"rejected":             types.StatusRejected,
	}
}
