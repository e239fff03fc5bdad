// Package forms intercepts business form submissions while the server is
// not usable: it validates the payload locally and enqueues it instead of
// letting the submission fail.
package forms

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/faidahq/faida-offline/internal/connectivity"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/status"
	"github.com/faidahq/faida-offline/internal/sync/queue"
)

// Interceptor validates offline form submissions and hands them to the
// durable queue. Validation failures are reported inline and never
// enqueued; enqueue failures are hard failures for the submission.
type Interceptor struct {
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	surface  *status.Surface
	validate *validator.Validate
}

// NewInterceptor creates an Interceptor over the queue and monitor.
// surface may be nil when no status projection is wanted.
func NewInterceptor(q *queue.Queue, m *connectivity.Monitor, surface *status.Surface) *Interceptor {
	return &Interceptor{
		queue:    q,
		monitor:  m,
		surface:  surface,
		validate: validator.New(),
	}
}

// ShouldIntercept reports whether a submission should be captured locally
// instead of sent: true whenever the server is not currently reachable,
// including the reachable-but-rejecting state where a direct submission
// would bounce off the login redirect.
func (i *Interceptor) ShouldIntercept() bool {
	return i.monitor.CurrentState() != connectivity.StateReachable
}

// SubmitSale validates and enqueues an offline sale.
func (i *Interceptor) SubmitSale(p *models.SalePayload) (*models.QueuedOperation, error) {
	if err := i.validateSale(p); err != nil {
		return nil, err
	}
	return i.enqueue(models.KindSale, p)
}

// SubmitStockPurchase validates and enqueues an offline stock purchase.
func (i *Interceptor) SubmitStockPurchase(p *models.StockPurchasePayload) (*models.QueuedOperation, error) {
	if err := i.validateStockPurchase(p); err != nil {
		return nil, err
	}
	return i.enqueue(models.KindStockPurchase, p)
}

// SubmitCashOutflow validates and enqueues an offline cash outflow.
func (i *Interceptor) SubmitCashOutflow(p *models.CashOutflowPayload) (*models.QueuedOperation, error) {
	if err := i.validateCashOutflow(p); err != nil {
		return nil, err
	}
	return i.enqueue(models.KindCashOutflow, p)
}

func (i *Interceptor) enqueue(kind models.OperationKind, payload interface{}) (*models.QueuedOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode payload", err)
	}

	op, err := i.queue.Enqueue(kind, raw, "")
	if err != nil {
		logging.Error("failed to enqueue offline submission", err, logging.Fields{"kind": kind})
		return nil, err
	}

	if i.surface != nil {
		if pending, err := i.queue.Count(models.StatusPending); err == nil {
			i.surface.QueuedWhileOffline(pending)
		}
	}
	return op, nil
}

func (i *Interceptor) validateSale(p *models.SalePayload) error {
	if err := i.validate.Struct(p); err != nil {
		return validationError(err)
	}
	for _, item := range p.SaleItems {
		if !item.Network.Valid() {
			return apperrors.New(apperrors.ErrValidation, "réseau invalide: "+string(item.Network))
		}
		if item.PricePerUnitApplied != nil && item.PricePerUnitApplied.Sign() <= 0 {
			return apperrors.New(apperrors.ErrValidation, "prix unitaire invalide")
		}
	}
	if p.CashPaid.Sign() < 0 {
		return apperrors.New(apperrors.ErrValidation, "le montant payé ne peut pas être négatif")
	}
	if p.ClientChoice == "existing" && p.ExistingClientID == "" {
		return apperrors.New(apperrors.ErrValidation, "client existant non sélectionné")
	}
	return nil
}

func (i *Interceptor) validateStockPurchase(p *models.StockPurchasePayload) error {
	if err := i.validate.Struct(p); err != nil {
		return validationError(err)
	}
	if !p.Network.Valid() {
		return apperrors.New(apperrors.ErrValidation, "réseau invalide: "+string(p.Network))
	}
	if err := checkPriceChoice(p.BuyingPriceChoice, p.CustomBuyingPrice, "prix d'achat"); err != nil {
		return err
	}
	return checkPriceChoice(p.IntendedSellingPriceChoice, p.CustomIntendedSellingPrice, "prix de vente")
}

func (i *Interceptor) validateCashOutflow(p *models.CashOutflowPayload) error {
	if err := i.validate.Struct(p); err != nil {
		return validationError(err)
	}
	if p.Amount.Sign() <= 0 {
		return apperrors.New(apperrors.ErrValidation, "le montant doit être positif")
	}
	if !p.Category.Valid() {
		return apperrors.New(apperrors.ErrValidation, "catégorie invalide: "+string(p.Category))
	}
	return nil
}

// checkPriceChoice accepts either a decimal literal choice or "custom"
// with an explicit positive custom price, mirroring the server's form.
func checkPriceChoice(choice string, custom *decimal.Decimal, label string) error {
	if choice == "custom" {
		if custom == nil || custom.Sign() <= 0 {
			return apperrors.New(apperrors.ErrValidation, label+" personnalisé manquant ou invalide")
		}
		return nil
	}
	if _, err := decimal.NewFromString(choice); err != nil {
		return apperrors.New(apperrors.ErrValidation, label+" invalide: "+choice)
	}
	return nil
}

func validationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		first := verrs[0]
		return apperrors.Wrap(apperrors.ErrValidation, "champ invalide: "+first.Field(), err)
	}
	return apperrors.Wrap(apperrors.ErrValidation, "formulaire invalide", err)
}
