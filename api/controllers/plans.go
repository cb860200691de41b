package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pagemint/pagemint-backend/api/responses"
	"github.com/pagemint/pagemint-backend/internal/billing"
	pkgerrors "github.com/pagemint/pagemint-backend/pkg/errors"
	"github.com/pagemint/pagemint-backend/pkg/logger"
)

type creditPackView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Credits      int64           `json:"credits"`
	PriceAmount  decimal.Decimal `json:"price_amount"`
	CurrencyCode string          `json:"currency_code"`
	Features     []string        `json:"features,omitempty"`
}

// ListPlans returns the purchasable credit packs.
func ListPlans(svc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		packs, err := svc.ListActiveCreditPacks(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing credit packs"))
			return
		}

		views := make([]creditPackView, 0, len(packs))
		for _, pack := range packs {
			views = append(views, creditPackView{
				ID:           pack.ID,
				Name:         pack.Name,
				Credits:      pack.Credits,
				PriceAmount:  pack.PriceAmount,
				CurrencyCode: pack.CurrencyCode,
				Features:     []string(pack.Features),
			})
		}
		responses.WriteSuccess(w, views)
	}
}
