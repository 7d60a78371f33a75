package api

import (
	"net/http"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/handler"
	"github.com/dmitrymomot/billing/pkg/jwt"
)

func principal(ctx handler.Context) (billing.Principal, bool) {
	p, ok := jwt.PrincipalFromContext(ctx)
	if !ok {
		return billing.Principal{}, false
	}
	return billing.Principal{UserID: p.UserID, Email: p.Email}, true
}

func (s *Server) listPlans(ctx handler.Context, _ empty) handler.Response {
	plans, err := s.svc.ListPlans(ctx)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(mapSlice(plans, newPlanResponse))
}

func (s *Server) createPayment(ctx handler.Context, req paymentRequest) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	if err := req.validate(s.now()); err != nil {
		return handler.Error(err)
	}

	order, err := s.svc.CreateSubscriptionPayment(ctx, p, req.PlanID, req.card())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newOrderResponse(*order), handler.WithJSONStatus(http.StatusCreated))
}

func (s *Server) confirmPayment(ctx handler.Context, req confirmRequest) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	if err := req.validate(); err != nil {
		return handler.Error(err)
	}

	order, err := s.svc.ConfirmSubscriptionPayment(ctx, p, req.PaymentID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newOrderResponse(*order), handler.WithJSONStatus(http.StatusAccepted))
}

func (s *Server) cancelSubscription(ctx handler.Context, _ empty) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	sub, err := s.svc.CancelSubscription(ctx, p)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newSubscriptionResponse(*sub))
}

func (s *Server) refundSubscription(ctx handler.Context, _ empty) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	order, err := s.svc.RefundSubscription(ctx, p)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newOrderResponse(*order), handler.WithJSONStatus(http.StatusAccepted))
}

func (s *Server) listUserSubscriptions(ctx handler.Context, _ empty) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	subs, err := s.svc.ListUserSubscriptions(ctx, p.UserID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(mapSlice(subs, newSubscriptionResponse))
}

func (s *Server) listUserOrders(ctx handler.Context, _ empty) handler.Response {
	p, ok := principal(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	orders, err := s.svc.ListUserOrders(ctx, p.UserID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(mapSlice(orders, newOrderResponse))
}
