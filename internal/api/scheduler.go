package api

import (
	"context"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/handler"
)

func (s *Server) listProcessingOrders(ctx handler.Context, _ empty) handler.Response {
	return s.listOrders(ctx, false)
}

func (s *Server) listProcessingRefunds(ctx handler.Context, _ empty) handler.Response {
	return s.listOrders(ctx, true)
}

func (s *Server) listOrders(ctx handler.Context, refund bool) handler.Response {
	orders, err := s.rec.ListProcessingOrders(ctx, refund)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(mapSlice(orders, newOrderResponse))
}

func (s *Server) pollOrders(ctx handler.Context, _ empty) handler.Response {
	return s.runSweep(ctx, s.rec.PollProcessingOrders)
}

func (s *Server) pollRefunds(ctx handler.Context, _ empty) handler.Response {
	return s.runSweep(ctx, s.rec.PollProcessingRefunds)
}

func (s *Server) renewExpiring(ctx handler.Context, _ empty) handler.Response {
	return s.runSweep(ctx, s.rec.ExpireActiveAutomaticSubscriptions)
}

func (s *Server) disableExpired(ctx handler.Context, _ empty) handler.Response {
	return s.runSweep(ctx, s.rec.DisableExpiredSubscriptions)
}

func (s *Server) enablePreactive(ctx handler.Context, _ empty) handler.Response {
	return s.runSweep(ctx, s.rec.EnablePreactiveSubscriptions)
}

// runSweep reports partial failures in the body; only a failure to run the
// sweep at all is an error response.
func (s *Server) runSweep(ctx handler.Context, fn func(context.Context) (billing.SweepResult, error)) handler.Response {
	res, err := fn(ctx)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(res)
}

func (s *Server) checkOrder(ctx handler.Context, req externalIDRequest) handler.Response {
	return s.check(ctx, req, s.rec.CheckOrder)
}

func (s *Server) checkRefund(ctx handler.Context, req externalIDRequest) handler.Response {
	return s.check(ctx, req, s.rec.CheckRefund)
}

func (s *Server) check(ctx handler.Context, req externalIDRequest, fn func(context.Context, string) (*billing.Order, error)) handler.Response {
	if err := req.validate(); err != nil {
		return handler.Error(err)
	}
	order, err := fn(ctx, req.ExternalID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newOrderResponse(*order))
}

func (s *Server) listExpiring(ctx handler.Context, _ empty) handler.Response {
	subs, err := s.rec.ListExpiringSubscriptions(ctx)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(mapSlice(subs, newSubscriptionResponse))
}

func (s *Server) recurringPayment(ctx handler.Context, req recurringRequest) handler.Response {
	if err := req.validate(); err != nil {
		return handler.Error(err)
	}
	order, err := s.rec.RecurringPayment(ctx, req.UserID, req.PlanID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(newOrderResponse(*order))
}
